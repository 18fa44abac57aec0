// Package memory provides an in-process implementation of storage.Storage
// backed by github.com/hashicorp/golang-lru/v2.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ecociel/mcp-app-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Storage keeps at most a fixed number of items, evicting the least
// recently used one first.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}
	go s.cleanupExpired(5 * time.Minute)
	return s, nil
}

// Get retrieves data for a key within the selected namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Apply(opts...)
	if !storage.ValidNamespace(o.Namespace) {
		return nil, storage.ErrInvalidNamespace
	}
	k := storage.Keyspace(o.Namespace, key)

	s.mu.RLock()
	item, ok := s.cache.Get(k)
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(k)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

// Set stores a copy of data for a key within the selected namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	if !storage.ValidNamespace(o.Namespace) {
		return storage.ErrInvalidNamespace
	}

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		item.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.cache.Add(storage.Keyspace(o.Namespace, key), item)
	s.mu.Unlock()
	return nil
}

// Delete removes one key or a whole namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	if !storage.ValidNamespace(o.Namespace) {
		return storage.ErrInvalidNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if o.Key != nil {
		s.cache.Remove(storage.Keyspace(o.Namespace, *o.Key))
		return nil
	}
	// LRU has no prefix iteration.
	prefix := storage.NamespacePrefix(o.Namespace)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Len reports the number of stored items, expired ones included.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

// Close purges the cache and stops the expiry sweeper.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.IsExpired() {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
