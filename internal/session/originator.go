// Package session originates invites on behalf of requesters.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/models"
	"github.com/tariel-x/livedesk/internal/store"
)

const idLength = 16

// Navigator moves the requester to the chat room of a new invite.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

type NavigatorFunc func(ctx context.Context, target string)

func (f NavigatorFunc) Navigate(ctx context.Context, target string) { f(ctx, target) }

type navigatorKey struct{}

// WithNavigator overrides the originator's navigator for calls made with ctx.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// ChatPath is the navigation target for invite id.
func ChatPath(id string) string {
	return "/chat/" + id
}

// ParseTTL coerces user input into a TTL in seconds.
func ParseTTL(input any) int {
	return models.CoerceTTL(input)
}

type Request struct {
	ExpertID      string
	RequesterName string
	Topic         string
	Note          string
	TTL           any
}

type Originator struct {
	store store.Store
	bus   bus.Bus
	nav   Navigator
	log   *zap.Logger

	now   func() time.Time
	newID func() (string, error)
}

type Option func(*Originator)

func WithClock(now func() time.Time) Option {
	return func(o *Originator) { o.now = now }
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(o *Originator) { o.newID = gen }
}

func New(st store.Store, b bus.Bus, nav Navigator, log *zap.Logger, opts ...Option) *Originator {
	if b == nil {
		b = bus.Noop{}
	}
	if nav == nil {
		nav = NavigatorFunc(func(context.Context, string) {})
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Originator{
		store: st,
		bus:   b,
		nav:   nav,
		log:   log,
		now:   time.Now,
		newID: func() (string, error) { return gonanoid.New(idLength) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateInvite announces a new pending invite, queues it in the pending
// buffer and navigates to its chat room. Broadcast and storage failures are
// logged and do not stop navigation. An error is returned only when no id
// could be generated, in which case nothing happened.
func (o *Originator) CreateInvite(ctx context.Context, req Request) (string, error) {
	id, err := o.newID()
	if err != nil {
		return "", fmt.Errorf("generate invite id: %w", err)
	}

	inv := models.Invite{
		ID:            id,
		ExpertID:      req.ExpertID,
		RequesterName: models.NormalizeRequesterName(req.RequesterName),
		Topic:         models.NormalizeTopic(req.Topic),
		Note:          req.Note,
		CreatedAt:     o.now().UnixMilli(),
		TTLSeconds:    ParseTTL(req.TTL),
		Status:        models.InviteStatusPending,
		Unread:        true,
	}
	msg := bus.NewAddMessage(inv)
	logger := o.log.With(zap.String("invite_id", id), zap.String("expert_id", inv.ExpertID))

	if o.bus.Enabled() {
		if err := o.bus.Publish(ctx, msg); err != nil {
			logger.Warn("failed to broadcast invite", zap.Error(err))
		}
	}

	if err := o.enqueue(ctx, msg); err != nil {
		logger.Warn("failed to append invite to pending buffer", zap.Error(err))
	}

	logger.Info("invite created", zap.Int("ttl_seconds", inv.TTLSeconds))
	o.navigator(ctx).Navigate(ctx, ChatPath(id))
	return id, nil
}

// enqueue puts msg at the front of the pending buffer. A malformed buffer is
// replaced.
func (o *Originator) enqueue(ctx context.Context, msg bus.AddMessage) error {
	if o.store == nil {
		return store.ErrClosed
	}
	entry, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return o.store.Update(ctx, store.KeyPendingBuffer, func(cur []byte) ([]byte, error) {
		var buf []json.RawMessage
		if len(cur) > 0 {
			if err := json.Unmarshal(cur, &buf); err != nil {
				o.log.Warn("discarding malformed pending buffer", zap.Error(err))
				buf = nil
			}
		}
		buf = append([]json.RawMessage{entry}, buf...)
		return json.Marshal(buf)
	})
}

func (o *Originator) navigator(ctx context.Context) Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(Navigator); ok && nav != nil {
		return nav
	}
	return o.nav
}
