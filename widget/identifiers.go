package widget

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	// Scheme is the URI scheme of every widget identifier.
	Scheme = "ui"

	canonicalBase = Scheme + "://widget/"
	entryExt      = ".html"
)

// CanonicalURI returns the canonical identifier for the named widget.
func CanonicalURI(name string) string {
	return canonicalBase + url.PathEscape(name) + entryExt
}

// DerivedPrefix returns the namespace prefix under which a widget's assets
// are addressed: the canonical identifier without its extension, followed
// by a slash.
func DerivedPrefix(canonical string) string {
	return strings.TrimSuffix(canonical, path.Ext(canonical)) + "/"
}

// DerivedURI returns the identifier of the asset at rel (slash separated,
// relative to the widget's asset root). Each segment is path escaped.
func DerivedURI(prefix, rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return prefix + strings.Join(segs, "/")
}

// relFromDerived reverses DerivedURI. ok is false when uri is outside the
// prefix; a non-nil error means the identifier is in the namespace but does
// not name a valid relative path.
func relFromDerived(prefix, uri string) (rel string, ok bool, err error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", false, nil
	}
	rest := uri[len(prefix):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	segs := strings.Split(rest, "/")
	for i, s := range segs {
		u, uerr := url.PathUnescape(s)
		if uerr != nil {
			return "", true, fmt.Errorf("%w: %v", ErrNotFound, uerr)
		}
		if strings.Contains(u, "/") {
			return "", true, ErrTraversalRejected
		}
		segs[i] = u
	}
	rel = strings.Join(segs, "/")
	if !validRelPath(rel) {
		return "", true, ErrTraversalRejected
	}
	return rel, true, nil
}

// ValidName reports whether name can be used as a widget name: a single
// path segment free of separator, query and glob characters.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\:?#*[]|`)
}
