package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Well-known keys shared by the originator and inbox views.
const (
	KeyPendingBuffer = "sc_inbox_new"
	KeyInvites       = "sc_inbox_items_v1"
	KeyUnreadCount   = "inbox-unread-count"
)

var (
	ErrMiss   = errors.New("store: miss")
	ErrClosed = errors.New("store: closed")
)

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store. Returning a nil value deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the process-wide key-value record store. Values are opaque bytes,
// JSON by convention. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Update runs fn as an atomic read-modify-write of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Subscribe calls fn with the new value after every write to key
	// (nil after a delete). The returned func cancels the subscription.
	Subscribe(key string, fn func(value []byte)) (cancel func())
	Close() error
}

// GetJSON decodes the value at key into v. It returns ErrMiss when absent.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data)
}

// watchers tracks per-key change callbacks for in-process adapters.
type watchers struct {
	mu     sync.Mutex
	nextID int
	byKey  map[string]map[int]func([]byte)
}

func newWatchers() *watchers {
	return &watchers{byKey: make(map[string]map[int]func([]byte))}
}

func (w *watchers) add(key string, fn func([]byte)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	subs, ok := w.byKey[key]
	if !ok {
		subs = make(map[int]func([]byte))
		w.byKey[key] = subs
	}
	subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byKey[key], id)
			if len(w.byKey[key]) == 0 {
				delete(w.byKey, key)
			}
		})
	}
}

func (w *watchers) notify(key string, value []byte) {
	w.mu.Lock()
	subs := make([]func([]byte), 0, len(w.byKey[key]))
	for _, fn := range w.byKey[key] {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cloneBytes(value))
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Redis)(nil)
)
