// Package storage defines the key-value cache used to keep resolved widget
// documents between lookups, plus its in-memory and Redis backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a namespaced key-value store with optional expiry.
type Storage interface {
	// Get retrieves data for a key within the selected namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a key within the selected namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a single key when WithKey is given, otherwise the
	// whole namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiry
}

// IsExpired checks if the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options collects the effect of the Option values passed to an operation.
type Options struct {
	Namespace string         // empty selects the global namespace
	Key       *string        // Delete only
	TTL       *time.Duration // Set only
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithNamespace scopes the operation to ns.
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithKey selects a single key for Delete.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

// WithTTL sets a time-to-live for the stored data. Non-positive values
// mean no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TTL = &ttl
		}
	}
}

// ErrInvalidNamespace is returned for namespaces containing the key
// separator.
var ErrInvalidNamespace = errors.New("storage: invalid namespace")

// Keyspace renders namespaced keys as "ns:<ns>|<key>", or "global|<key>"
// for the global namespace. Backends share it so prefixes agree.
func Keyspace(ns, key string) string {
	return NamespacePrefix(ns) + key
}

// NamespacePrefix returns the prefix shared by every key in ns.
func NamespacePrefix(ns string) string {
	if ns == "" {
		return "global|"
	}
	return "ns:" + ns + "|"
}

// ValidNamespace reports whether ns can be used with Keyspace. Glob
// metacharacters are excluded so namespace prefixes are safe in Redis SCAN
// patterns.
func ValidNamespace(ns string) bool {
	for i := 0; i < len(ns); i++ {
		switch ns[i] {
		case '|', '*', '?', '[', ']':
			return false
		}
	}
	return true
}
