// Package streaminghttp serves MCP JSON-RPC over HTTP POST.
//
// Each POST to the configured path (default "/mcp") carries one JSON-RPC
// message. Requests are answered with a single application/json response;
// notifications and client responses are acknowledged with 202 Accepted.
// Batch arrays are rejected. Other HTTP methods on the path receive 405.
//
// The handler holds no per-client session state, so any number of
// replicas can serve the same widget catalog.
//
//	h, err := streaminghttp.New(server)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mux := http.NewServeMux()
//	mux.Handle(h.Path(), h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
