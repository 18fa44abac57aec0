package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Strategy selects how the Resolver treats asset references.
type Strategy string

const (
	// StrategyInline embeds referenced scripts and stylesheets into the
	// document.
	StrategyInline Strategy = "inline"
	// StrategyExternalize points references at derived identifiers so each
	// asset is served as its own resource.
	StrategyExternalize Strategy = "externalize"
)

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyInline, "":
		return StrategyInline, nil
	case StrategyExternalize:
		return StrategyExternalize, nil
	default:
		return "", fmt.Errorf("unknown bundle strategy %q", s)
	}
}

// Resolver rewrites the asset references of an entry document.
type Resolver struct {
	strategy Strategy
	log      *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for per-asset diagnostics.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver returns a Resolver applying strategy.
func NewResolver(strategy Strategy, opts ...ResolverOption) (*Resolver, error) {
	if strategy != StrategyInline && strategy != StrategyExternalize {
		return nil, fmt.Errorf("unknown bundle strategy %q", strategy)
	}
	r := &Resolver{strategy: strategy, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve rewrites doc. Script src and stylesheet href attributes naming a
// relative asset are either inlined from assets or rewritten to
// DerivedURI(prefix, rel). All other bytes are copied verbatim, so a
// document without such references comes back unchanged.
//
// With the inline strategy an asset that cannot be read leaves its tag
// untouched. Resolve only fails when ctx is done.
func (r *Resolver) Resolve(ctx context.Context, doc string, assets AssetReader, prefix string) (string, error) {
	var out strings.Builder
	out.Grow(len(doc))

	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tt := z.Next()
		if tt == html.ErrorToken {
			out.Write(z.Raw())
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return "", fmt.Errorf("tokenize entry document: %w", z.Err())
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}

		// Token() lowercases the tag in place, so keep the original bytes.
		raw := append([]byte(nil), z.Raw()...)
		tok := z.Token()
		ref, ok := findReference(tok)
		if !ok {
			out.Write(raw)
			continue
		}

		switch r.strategy {
		case StrategyExternalize:
			attrs := append([]html.Attribute(nil), tok.Attr...)
			attrs[ref.attr].Val = DerivedURI(prefix, ref.rel)
			writeStartTag(&out, tok.Data, attrs, tt == html.SelfClosingTagToken)
		case StrategyInline:
			asset, err := assets.Read(ctx, ref.rel)
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return "", cerr
				}
				r.log.DebugContext(ctx, "widget.bundle.asset_missing",
					slog.String("asset", ref.rel),
					slog.String("err", err.Error()),
				)
				out.Write(raw)
				continue
			}
			if ref.script {
				// The original element body is ignored by browsers when src
				// is set; drop it along with the end tag.
				skipRawText(z)
				writeInlineScript(&out, tok.Attr, asset.Data)
			} else {
				writeInlineStyle(&out, tok.Attr, asset.Data)
			}
		}
	}
	return out.String(), nil
}

type reference struct {
	attr   int
	rel    string
	script bool
}

// findReference reports the attribute of tok that names a bundled asset.
func findReference(tok html.Token) (reference, bool) {
	switch tok.DataAtom {
	case atom.Script:
		i := attrIndex(tok.Attr, "src")
		if i < 0 {
			return reference{}, false
		}
		rel, ok := relativeAssetPath(tok.Attr[i].Val)
		return reference{attr: i, rel: rel, script: true}, ok
	case atom.Link:
		if !isStylesheet(tok.Attr) {
			return reference{}, false
		}
		i := attrIndex(tok.Attr, "href")
		if i < 0 {
			return reference{}, false
		}
		rel, ok := relativeAssetPath(tok.Attr[i].Val)
		return reference{attr: i, rel: rel}, ok
	}
	return reference{}, false
}

func attrIndex(attrs []html.Attribute, key string) int {
	for i, a := range attrs {
		if a.Namespace == "" && a.Key == key {
			return i
		}
	}
	return -1
}

func isStylesheet(attrs []html.Attribute) bool {
	i := attrIndex(attrs, "rel")
	if i < 0 {
		return false
	}
	for _, f := range strings.Fields(attrs[i].Val) {
		if strings.EqualFold(f, "stylesheet") {
			return true
		}
	}
	return false
}

// relativeAssetPath turns a reference value into a clean path relative to
// the asset root. References with a scheme (http:, data:, ui:),
// protocol-relative references and paths that climb above the root are not
// assets. A leading "/" is treated as root relative.
func relativeAssetPath(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "#") {
		return "", false
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Opaque != "" || u.Path == "" {
		return "", false
	}
	p := path.Clean(strings.TrimLeft(u.Path, "/"))
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// skipRawText consumes tokens up to and including the end tag of the
// current raw text element.
func skipRawText(z *html.Tokenizer) {
	for {
		switch z.Next() {
		case html.ErrorToken:
			return
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "script" {
				return
			}
		}
	}
}

var (
	scriptCloser = regexp.MustCompile(`(?i)</(script)`)
	styleCloser  = regexp.MustCompile(`(?i)</(style)`)
)

// escapeScript keeps inlined code from ending the script element early.
// "<!--" is escaped too: followed by "<script" it switches the tokenizer
// into the double-escaped state, where "</script>" no longer closes.
func escapeScript(body string) string {
	return strings.ReplaceAll(scriptCloser.ReplaceAllString(body, `<\/$1`), "<!--", `<\!--`)
}

// inlineScriptDrops are attributes that only make sense for external scripts.
var inlineScriptDrops = map[string]bool{
	"src":         true,
	"integrity":   true,
	"crossorigin": true,
}

// inlineStyleKeeps are the link attributes that carry over to <style>.
var inlineStyleKeeps = map[string]bool{
	"media": true,
	"nonce": true,
	"id":    true,
	"title": true,
}

func writeInlineScript(out *strings.Builder, attrs []html.Attribute, body []byte) {
	kept := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.Namespace == "" && inlineScriptDrops[a.Key] {
			continue
		}
		kept = append(kept, a)
	}
	writeStartTag(out, "script", kept, false)
	out.WriteString(escapeScript(string(body)))
	out.WriteString("</script>")
}

func writeInlineStyle(out *strings.Builder, attrs []html.Attribute, body []byte) {
	kept := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.Namespace == "" && inlineStyleKeeps[a.Key] {
			kept = append(kept, a)
		}
	}
	writeStartTag(out, "style", kept, false)
	out.WriteString(styleCloser.ReplaceAllString(string(body), `<\/$1`))
	out.WriteString("</style>")
}

func writeStartTag(out *strings.Builder, name string, attrs []html.Attribute, selfClosing bool) {
	out.WriteByte('<')
	out.WriteString(name)
	for _, a := range attrs {
		out.WriteByte(' ')
		if a.Namespace != "" {
			out.WriteString(a.Namespace)
			out.WriteByte(':')
		}
		out.WriteString(a.Key)
		if a.Val != "" {
			out.WriteString(`="`)
			out.WriteString(html.EscapeString(a.Val))
			out.WriteByte('"')
		}
	}
	if selfClosing {
		out.WriteString(" /")
	}
	out.WriteByte('>')
}
