package widget

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Asset is a file read from a Store.
type Asset struct {
	// Path is slash separated and relative to the store root.
	Path     string
	Data     []byte
	MIMEType string
	ModTime  time.Time
}

// AssetReader reads assets by relative path. *Store implements it.
type AssetReader interface {
	Read(ctx context.Context, rel string) (*Asset, error)
}

// Store is a read-only view of the files below a root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir. The root is made absolute and
// symlink-resolved so containment checks compare real paths.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve asset root %q: %w", dir, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: asset root %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("resolve asset root %q: %w", dir, err)
	}
	return &Store{root: real}, nil
}

// Read returns the asset at rel. Missing files, directories and paths that
// resolve outside the root all report ErrNotFound; the latter wrap
// ErrTraversalRejected.
func (s *Store) Read(ctx context.Context, rel string) (*Asset, error) {
	real, fi, err := s.locate(ctx, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(real)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("read asset %s: %w", rel, err)
	}
	return &Asset{
		Path:     rel,
		Data:     data,
		MIMEType: MIMETypeFor(rel),
		ModTime:  fi.ModTime(),
	}, nil
}

// Stat reports the file info of the asset at rel under the same rules as
// Read, without reading its content.
func (s *Store) Stat(ctx context.Context, rel string) (fs.FileInfo, error) {
	_, fi, err := s.locate(ctx, rel)
	return fi, err
}

func (s *Store) locate(ctx context.Context, rel string) (string, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if !validRelPath(rel) {
		return "", nil, ErrTraversalRejected
	}

	// Symlinks are followed, but the target must stay below the root.
	real, err := filepath.EvalSymlinks(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", nil, fmt.Errorf("resolve asset %s: %w", rel, err)
	}
	if !within(real, s.root) {
		return "", nil, ErrTraversalRejected
	}

	fi, err := os.Stat(real)
	if err != nil || !fi.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	return real, fi, nil
}

// Files lists the regular files below the root as sorted relative paths.
// Symlinks and unreadable nodes are skipped.
func (s *Store) Files(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !validRelPath(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// validRelPath accepts clean, slash separated, root-relative paths only.
func validRelPath(p string) bool {
	// fs.ValidPath rejects empty elements, "." and ".." segments and a
	// leading slash.
	if !fs.ValidPath(p) || p == "." {
		return false
	}
	return !strings.ContainsAny(p, `:\`)
}

func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
