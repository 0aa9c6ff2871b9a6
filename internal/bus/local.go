package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const DefaultBuffer = 64

type subscriber struct {
	id        int
	queue     chan Message
	handler   Handler
	closeOnce sync.Once
	done      chan struct{}
}

func (s *subscriber) trySend(m Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case s.queue <- m:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
}

func (s *subscriber) run() {
	defer close(s.done)
	for m := range s.queue {
		s.handler(m)
	}
}

// Local fans messages out to subscribers in the same process. Every
// subscriber drains its own bounded queue, so a slow one cannot stall the
// others; when its queue is full the message is dropped for it.
type Local struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
	log    *zap.Logger
}

func NewLocal(buffer int, log *zap.Logger) *Local {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		log:    log,
	}
}

func (b *Local) Publish(_ context.Context, m Message) error {
	if _, err := Encode(m); err != nil {
		return err
	}
	b.dispatch(m)
	return nil
}

func (b *Local) dispatch(m Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.trySend(m) {
			b.log.Warn("bus subscriber queue full, message dropped",
				zap.Int("subscriber", s.id), zap.String("type", m.Type()))
		}
	}
}

func (b *Local) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	s := &subscriber{
		id:      b.nextID,
		queue:   make(chan Message, b.buffer),
		handler: h,
		done:    make(chan struct{}),
	}
	b.subs[s.id] = s
	go s.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
		s.close()
	}
}

func (b *Local) Enabled() bool { return true }

// Close stops delivery and waits for in-flight handlers to return.
func (b *Local) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
		<-s.done
	}
	return nil
}
