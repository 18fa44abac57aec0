package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ecociel/mcp-app-go/widget"
)

// ArgsGreeting selects the reflected argument type of the built-in greeting
// tool.
const ArgsGreeting = "greeting"

// Manifest declares the widgets a server exposes and the tools that render
// them.
type Manifest struct {
	Instructions string       `yaml:"instructions,omitempty"`
	Widgets      []WidgetSpec `yaml:"widgets"`
	Tools        []ToolSpec   `yaml:"tools"`
}

// WidgetSpec declares one widget resource.
type WidgetSpec struct {
	Name          string         `yaml:"name"`
	URI           string         `yaml:"uri,omitempty"`
	Title         string         `yaml:"title,omitempty"`
	Description   string         `yaml:"description,omitempty"`
	PrefersBorder bool           `yaml:"prefersBorder,omitempty"`
	Meta          map[string]any `yaml:"meta,omitempty"`
}

// ToolSpec declares one tool. Widget names the widget its results render.
// The argument schema comes either from InputSchema or from a built-in
// argument type named by Args.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Title       string         `yaml:"title,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Widget      string         `yaml:"widget"`
	Message     string         `yaml:"message,omitempty"`
	Args        string         `yaml:"args,omitempty"`
	InputSchema map[string]any `yaml:"inputSchema,omitempty"`
	Meta        map[string]any `yaml:"meta,omitempty"`
}

// DefaultManifest declares the greeting widget and the show-greeting-widget
// tool requiring a name.
func DefaultManifest() *Manifest {
	return &Manifest{
		Widgets: []WidgetSpec{{
			Name:          "greeting",
			Title:         "Greeting",
			Description:   "Greets the user by name.",
			PrefersBorder: true,
		}},
		Tools: []ToolSpec{{
			Name:        "show-greeting-widget",
			Title:       "Show greeting",
			Description: "Render a greeting widget for the given name.",
			Widget:      "greeting",
			Args:        ArgsGreeting,
		}},
	}
}

// LoadManifest reads a manifest from path. An empty path yields
// DefaultManifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes and validates a YAML manifest. Unknown keys are
// rejected.
func ParseManifest(b []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names and cross references.
func (m *Manifest) Validate() error {
	if len(m.Widgets) == 0 {
		return errors.New("manifest declares no widgets")
	}
	widgets := make(map[string]bool, len(m.Widgets))
	for _, w := range m.Widgets {
		if !widget.ValidName(w.Name) {
			return fmt.Errorf("widget name %q is invalid", w.Name)
		}
		if widgets[w.Name] {
			return fmt.Errorf("widget %q declared twice", w.Name)
		}
		widgets[w.Name] = true
	}
	tools := make(map[string]bool, len(m.Tools))
	for _, t := range m.Tools {
		if t.Name == "" {
			return errors.New("tool name is required")
		}
		if tools[t.Name] {
			return fmt.Errorf("tool %q declared twice", t.Name)
		}
		tools[t.Name] = true
		if !widgets[t.Widget] {
			return fmt.Errorf("tool %q renders undeclared widget %q", t.Name, t.Widget)
		}
		switch t.Args {
		case "":
		case ArgsGreeting:
			if t.InputSchema != nil {
				return fmt.Errorf("tool %q sets both args and inputSchema", t.Name)
			}
		default:
			return fmt.Errorf("tool %q: unknown args type %q", t.Name, t.Args)
		}
	}
	return nil
}

// WidgetList converts the declared widgets for a widget.Registry.
func (m *Manifest) WidgetList() []widget.Widget {
	out := make([]widget.Widget, 0, len(m.Widgets))
	for _, w := range m.Widgets {
		out = append(out, widget.Widget{
			Name:          w.Name,
			URI:           w.URI,
			Title:         w.Title,
			Description:   w.Description,
			PrefersBorder: w.PrefersBorder,
			Meta:          w.Meta,
		})
	}
	return out
}

// WidgetURI returns the canonical identifier of the named widget.
func (m *Manifest) WidgetURI(name string) (string, bool) {
	for _, w := range m.Widgets {
		if w.Name == name {
			if w.URI != "" {
				return w.URI, true
			}
			return widget.CanonicalURI(w.Name), true
		}
	}
	return "", false
}
