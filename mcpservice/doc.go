// Package mcpservice exposes the capabilities a widget server advertises to
// MCP clients. The protocol engine consumes ServerCapabilities; transports
// never talk to widgets directly.
//
// Quick start:
//
//	reg, _ := widget.NewRegistry(locator, resolver, []widget.Widget{{Name: "greeting"}})
//	resources := mcpservice.NewWidgetResources(reg)
//
//	type GreetingArgs struct {
//	    Name string `json:"name" jsonschema:"minLength=1"`
//	}
//	greet, _ := mcpservice.NewTypedWidgetTool[GreetingArgs](
//	    "show-greeting-widget", widget.CanonicalURI("greeting"),
//	    mcpservice.WithToolDescription("Show a greeting"),
//	)
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "widgets", Version: "1.0.0"}),
//	    mcpservice.WithResourcesCapability(resources),
//	    mcpservice.WithToolsCapability(mcpservice.NewToolsContainer([]mcpservice.Tool{greet})),
//	)
//
// Run resources.Watch in a goroutine to invalidate cached documents and emit
// resources/list_changed when the build output changes.
package mcpservice
