package store

import (
	"context"
	"sync"
)

// Memory keeps records in a map. Contents are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	records  map[string][]byte
	closed   bool
	watchers *watchers
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string][]byte),
		watchers: newWatchers(),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.records[key]
	if !ok {
		return nil, ErrMiss
	}
	return cloneBytes(value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.records[key] = cloneBytes(value)
	m.mu.Unlock()

	m.watchers.notify(key, value)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	_, existed := m.records[key]
	delete(m.records, key)
	m.mu.Unlock()

	if existed {
		m.watchers.notify(key, nil)
	}
	return nil
}

func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	current, existed := m.records[key]
	next, err := fn(cloneBytes(current))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if next == nil {
		delete(m.records, key)
	} else {
		m.records[key] = cloneBytes(next)
	}
	m.mu.Unlock()

	if next != nil || existed {
		m.watchers.notify(key, next)
	}
	return nil
}

func (m *Memory) Subscribe(key string, fn func([]byte)) func() {
	return m.watchers.add(key, fn)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
