package widget

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source tells where an entry document was found.
type Source int

const (
	SourceBuilt Source = iota + 1
	SourceDev
)

func (s Source) String() string {
	switch s {
	case SourceBuilt:
		return "built"
	case SourceDev:
		return "dev"
	default:
		return "unknown"
	}
}

// Entry locates a widget's HTML entry document.
type Entry struct {
	Name string
	// Path is the entry document's file path.
	Path string
	// Root is the directory relative asset references resolve against.
	Root    string
	Source  Source
	ModTime time.Time
}

// Locator finds entry documents. Built output lives in BuildRoot/<name>/,
// development files at DevRoot/<name>.html. Either root may be empty to
// disable that location.
type Locator struct {
	BuildRoot string
	DevRoot   string
}

// NewLocator returns a Locator for the given roots.
func NewLocator(buildRoot, devRoot string) *Locator {
	return &Locator{BuildRoot: buildRoot, DevRoot: devRoot}
}

// Locate returns the entry document for name. The built directory wins when
// it holds at least one top-level .html file; among several the
// lexicographically first name is chosen. Otherwise the development file is
// used. ErrEntryMissing is returned when neither exists.
func (l *Locator) Locate(ctx context.Context, name string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: invalid widget name %q", ErrEntryMissing, name)
	}

	if l.BuildRoot != "" {
		dir := filepath.Join(l.BuildRoot, name)
		if e, ok := firstHTML(dir); ok {
			e.Name = name
			e.Source = SourceBuilt
			return e, nil
		}
	}

	if l.DevRoot != "" {
		p := filepath.Join(l.DevRoot, name+entryExt)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return &Entry{
				Name:    name,
				Path:    p,
				Root:    l.DevRoot,
				Source:  SourceDev,
				ModTime: fi.ModTime(),
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
}

// firstHTML picks the lexicographically first regular .html file directly
// inside dir. os.ReadDir returns entries sorted by file name.
func firstHTML(dir string) (*Entry, bool) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	for _, de := range des {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), entryExt) {
			continue
		}
		p := filepath.Join(dir, de.Name())
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		return &Entry{Path: p, Root: dir, ModTime: fi.ModTime()}, true
	}
	return nil, false
}
