package mcp

// Widget MIME types. Hosts that render interactive widgets look for one of
// these on the resource contents.
const (
	MIMETypeSkybridge = "text/html+skybridge"
	MIMETypeMCPApp    = "text/html;profile=mcp-app"
)

// Keys used under _meta to link tools to widget templates.
const (
	MetaOutputTemplate         = "openai/outputTemplate"
	MetaWidgetAccessible       = "openai/widgetAccessible"
	MetaResultCanProduceWidget = "openai/resultCanProduceWidget"
	MetaWidgetPrefersBorder    = "openai/widgetPrefersBorder"
	MetaWidgetDescription      = "openai/widgetDescription"
)

// ContentTypeText is the content block type for plain text.
const ContentTypeText = "text"
