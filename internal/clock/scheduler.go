// Package clock drives time-based expiry. One scheduler ticks for the whole
// process and fans each tick out to every registered listener.
package clock

import (
	"context"
	"sync"
	"time"
)

// Listener is called on every tick with the tick instant.
type Listener func(now time.Time)

type Scheduler struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewScheduler(interval time.Duration, now func() time.Time) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		interval:  interval,
		now:       now,
		listeners: make(map[int]Listener),
	}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time { return s.now() }

func (s *Scheduler) Register(l Listener) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Tick fires every listener once with the current time.
func (s *Scheduler) Tick() {
	now := s.now()

	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(now)
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
