package bus

import (
	"context"
	"errors"
)

var (
	ErrUnknownMessage = errors.New("bus: unknown message")
	ErrDisabled       = errors.New("bus: broadcast is not available")
	ErrClosed         = errors.New("bus: closed")
)

// Handler receives messages in the order the bus accepted them.
type Handler func(Message)

// Bus is a fire-and-forget publish/subscribe channel between views.
// Nothing is persisted: a message published with no subscribers is gone.
type Bus interface {
	Publish(ctx context.Context, m Message) error
	Subscribe(h Handler) (cancel func())
	// Enabled reports whether published messages can reach anyone.
	Enabled() bool
	Close() error
}

var (
	_ Bus = (*Local)(nil)
	_ Bus = (*Redis)(nil)
	_ Bus = Noop{}
)
