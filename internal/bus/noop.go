package bus

import "context"

// Noop stands in when broadcast is unavailable. Publishing succeeds silently
// and subscribers never hear anything.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }

func (Noop) Subscribe(Handler) func() { return func() {} }

func (Noop) Enabled() bool { return false }

func (Noop) Close() error { return nil }
