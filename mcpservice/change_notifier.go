package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is an in-process fan-out used to signal that a tool or
// resource list changed.
type ChangeNotifier struct {
	mu          sync.RWMutex
	subscribers []chan struct{}
	closed      bool
}

// Notify signals every subscriber. Sends never block: a subscriber that has
// not drained its previous signal keeps only one pending.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.RLock()
	defer cn.mu.RUnlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel. Later subscribers receive a closed
// channel.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subscribers
	cn.subscribers = nil
	cn.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// ChangeSubscriber hands out change signal channels.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Subscriber returns a channel with capacity 1 that receives a signal on
// every Notify.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, 1)
	cn.subscribers = append(cn.subscribers, ch)
	return ch
}
