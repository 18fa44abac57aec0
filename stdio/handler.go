package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/ecociel/mcp-app-go/internal/engine"
	"github.com/ecociel/mcp-app-go/internal/jsonrpc"
	"github.com/ecociel/mcp-app-go/internal/logctx"
	"github.com/ecociel/mcp-app-go/mcpservice"
)

const defaultMaxLine = 4 << 20

// ErrLineTooLong is returned by Serve when an inbound message exceeds the
// configured limit.
var ErrLineTooLong = errors.New("stdio: message exceeds maximum line length")

// Handler is a single-connection stdio transport. It reads JSON-RPC
// messages from an io.Reader and writes responses to an io.Writer, by
// default os.Stdin and os.Stdout.
type Handler struct {
	r       io.Reader
	w       io.Writer
	log     *slog.Logger
	maxLine int
	srv     mcpservice.ServerCapabilities

	wmu sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		r:       os.Stdin,
		w:       os.Stdout,
		log:     slog.Default(),
		maxLine: defaultMaxLine,
		srv:     srv,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the event loop until EOF on the reader or ctx is done. It
// returns nil on EOF after in-flight requests complete.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
		RequestID: uuid.NewString(),
		Transport: "stdio",
	})
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.log))
	eng.WatchListChanged(ctx, engine.MessageWriterFunc(func(ctx context.Context, msg any) error {
		return h.write(msg)
	}))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLines(ctx, lines)
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.log.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			return err
		case line := <-lines:
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := eng.HandleMessage(ctx, line)
				if res == nil {
					return
				}
				if err := h.write(res); err != nil {
					h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
				}
			}()
		}
	}
}

// readLines forwards each non-blank line to out until the reader fails.
func (h *Handler) readLines(ctx context.Context, out chan<- []byte) error {
	br := bufio.NewReaderSize(h.r, 64<<10)
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return err
		}
		buf = append(buf, chunk...)
		if len(buf) > h.maxLine {
			return ErrLineTooLong
		}
		if isPrefix {
			continue
		}
		line := bytes.TrimSpace(buf)
		buf = nil
		if len(line) == 0 {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// write encodes v as a single line. Writes are serialized.
func (h *Handler) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
