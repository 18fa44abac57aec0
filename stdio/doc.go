// Package stdio implements a single-connection MCP transport over
// stdin/stdout using newline-delimited JSON-RPC messages.
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none
//	Framing          : one JSON object per line; blank lines are skipped
//
// Requests are dispatched concurrently so notifications/cancelled can reach
// a running tool call; responses may therefore arrive out of order and are
// correlated by id. Widget or tool list changes are pushed as
// list_changed notifications.
//
// Example:
//
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
