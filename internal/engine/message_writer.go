package engine

import (
	"context"
)

// MessageWriter delivers server-initiated messages (notifications) to the
// peer. msg is a *jsonrpc.Request or *jsonrpc.Response.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg any) error
}

// MessageWriterFunc adapts a function to MessageWriter.
type MessageWriterFunc func(ctx context.Context, msg any) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg any) error {
	return f(ctx, msg)
}
