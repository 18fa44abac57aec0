package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultToolMessage is the text returned alongside a rendered widget.
const DefaultToolMessage = "Widget rendered!"

var printer = message.NewPrinter(language.English)

// ToolResult is the outcome of a successful invocation.
type ToolResult struct {
	// StructuredContent echoes the validated arguments.
	StructuredContent map[string]any
	// RenderHint is the canonical identifier of the widget to display.
	RenderHint string
	Message    string
}

// ToolHandler validates tool arguments against a JSON Schema and links the
// result to a widget. It performs no I/O.
type ToolHandler struct {
	name      string
	widgetURI string
	message   string
	schema    map[string]any
	required  []string
	compiled  *jsonschema.Schema
}

// ToolOption configures a ToolHandler.
type ToolOption func(*ToolHandler)

// WithToolMessage overrides DefaultToolMessage.
func WithToolMessage(msg string) ToolOption {
	return func(h *ToolHandler) {
		if msg != "" {
			h.message = msg
		}
	}
}

// NewToolHandler compiles schema (a JSON Schema object; nil accepts any
// object) for the tool name rendering widgetURI.
func NewToolHandler(name, widgetURI string, schema map[string]any, opts ...ToolOption) (*ToolHandler, error) {
	if name == "" {
		return nil, errors.New("widget: tool name is required")
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	// Round-trip through JSON so YAML-decoded and reflected schemas reach
	// the compiler in the same shape, and the handler owns its copy.
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("tool %s: decode schema: %w", name, err)
	}
	var owned map[string]any
	if err := json.Unmarshal(b, &owned); err != nil {
		return nil, fmt.Errorf("tool %s: decode schema: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return nil, fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	compiled, err := c.Compile("tool.json")
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	h := &ToolHandler{
		name:      name,
		widgetURI: widgetURI,
		message:   DefaultToolMessage,
		schema:    owned,
		required:  requiredKeys(owned),
		compiled:  compiled,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func requiredKeys(schema map[string]any) []string {
	raw, _ := schema["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Name returns the tool name.
func (h *ToolHandler) Name() string { return h.name }

// WidgetURI returns the canonical identifier results point at.
func (h *ToolHandler) WidgetURI() string { return h.widgetURI }

// Required returns the required argument names in declared order.
func (h *ToolHandler) Required() []string {
	return append([]string(nil), h.required...)
}

// Schema returns a copy of the input schema.
func (h *ToolHandler) Schema() map[string]any {
	return deepCopy(h.schema).(map[string]any)
}

// Invoke validates args and echoes them as structured content. A missing
// required key yields a *ValidationError naming it, checked in declared
// order before any other schema rule.
func (h *ToolHandler) Invoke(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, k := range h.required {
		if _, ok := args[k]; !ok {
			return nil, &ValidationError{Field: k}
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := h.compiled.Validate(args); err != nil {
		return nil, toValidationError(err)
	}
	return &ToolResult{
		StructuredContent: deepCopy(args).(map[string]any),
		RenderHint:        h.widgetURI,
		Message:           h.message,
	}, nil
}

func toValidationError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Reason: err.Error()}
	}
	// Report the first leaf; it names the innermost failing value.
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := ""
	if len(ve.InstanceLocation) > 0 {
		field = strings.Join(ve.InstanceLocation, ".")
	}
	return &ValidationError{Field: field, Reason: ve.ErrorKind.LocalizedString(printer)}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}
