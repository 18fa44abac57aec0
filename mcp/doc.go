// Package mcp contains protocol data types and constants shared across
// transports and the widget server capabilities. It mirrors the wire
// representation specified by the Model Context Protocol while keeping the
// surface Go-friendly (exported structs with json tags, string constants for
// method names and enumerations, helper validation functions).
//
// The package is free of transport logic: streamable HTTP and stdio import
// these types but implement their own framing.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ResourcesReadMethod).
//
// # Widgets
//
// Widget resources are HTML documents served under the ui:// scheme with a
// widget MIME type (MIMETypeSkybridge or MIMETypeMCPApp). Tools point a host
// at the widget to render through the MetaOutputTemplate key in their _meta
// object:
//
//	tool := mcp.Tool{
//	    Name: "show-greeting-widget",
//	    Meta: map[string]any{mcp.MetaOutputTemplate: "ui://widget/greeting.html"},
//	}
//
// # Metadata
//
// BaseMetadata allows response producers to attach implementation-defined
// metadata under the _meta key.
//
// # Compatibility
//
// LatestProtocolVersion reflects the most recent protocol date the server
// targets. IsSupportedProtocolVersion gates initialize negotiation.
package mcp
