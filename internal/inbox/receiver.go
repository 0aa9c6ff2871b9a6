// Package inbox keeps an expert's list of invites current: it drains the
// pending buffer, listens on the bus, expires invites on the shared tick and
// applies the expert's decisions.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/experts"
	"github.com/tariel-x/livedesk/internal/models"
	"github.com/tariel-x/livedesk/internal/store"
)

var (
	ErrInviteNotFound = errors.New("invite not found")
	ErrNotPending     = errors.New("invite is no longer pending")
)

// Snapshot is what listeners see after every change.
type Snapshot struct {
	Items  []models.Invite `json:"items"`
	Unread int             `json:"unread"`
}

// Receiver is one inbox view. Several receivers may share a store and a bus;
// they converge through the stored collection.
type Receiver struct {
	store store.Store
	bus   bus.Bus
	dir   *experts.Directory
	now   func() time.Time
	log   *zap.Logger

	mu        sync.Mutex
	items     []models.Invite
	listeners map[int]func(Snapshot)
	nextID    int
	started   bool
	closed    bool

	cancelBus   func()
	cancelStore func()
}

type Option func(*Receiver)

func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

func WithDirectory(dir *experts.Directory) Option {
	return func(r *Receiver) { r.dir = dir }
}

func New(st store.Store, b bus.Bus, log *zap.Logger, opts ...Option) *Receiver {
	if b == nil {
		b = bus.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Receiver{
		store:     st,
		bus:       b,
		dir:       experts.Default(),
		now:       time.Now,
		log:       log,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start loads the persisted state and begins listening on the bus and for
// changes written by other views.
func (r *Receiver) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	cancelBus := r.bus.Subscribe(func(m bus.Message) {
		r.OnMessage(context.Background(), m)
	})
	var cancelStore func()
	if r.store != nil {
		cancelStore = r.store.Subscribe(store.KeyInvites, r.absorb)
	}

	r.mu.Lock()
	r.cancelBus, r.cancelStore = cancelBus, cancelStore
	r.mu.Unlock()

	r.IngestInitial(ctx)
}

func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancelBus, cancelStore := r.cancelBus, r.cancelStore
	r.listeners = make(map[int]func(Snapshot))
	r.mu.Unlock()

	if cancelBus != nil {
		cancelBus()
	}
	if cancelStore != nil {
		cancelStore()
	}
}

// Listen registers fn for every snapshot. It is not called with the current
// state; use Snapshot for that.
func (r *Receiver) Listen(fn func(Snapshot)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Receiver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// IngestInitial drains the pending buffer in front of the stored collection,
// drops duplicate ids keeping the first, expires overdue invites and persists
// the result. Storage errors leave the view running in memory.
func (r *Receiver) IngestInitial(ctx context.Context) {
	now := r.now()
	base := r.loadCollection(ctx, now)
	buffered := r.drainBuffer(ctx, now)

	list := dedupe(append(buffered, base...))
	for i := range list {
		list[i].Expire(now)
	}

	r.mu.Lock()
	r.items, _ = merge(list, r.items)
	r.mu.Unlock()

	r.persist(ctx)
}

// OnMessage handles one bus message. Only add messages change the inbox; an
// id that is already known is ignored.
func (r *Receiver) OnMessage(ctx context.Context, m bus.Message) {
	add, ok := m.(bus.AddMessage)
	if !ok {
		return
	}
	now := r.now()
	inv := fromAdd(add, r.dir, now)
	inv.Expire(now)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for _, existing := range r.items {
		if existing.ID == inv.ID {
			r.mu.Unlock()
			return
		}
	}
	r.items = append([]models.Invite{inv}, r.items...)
	r.mu.Unlock()

	r.log.Debug("invite received", zap.String("invite_id", inv.ID))
	r.persist(ctx)
}

// Tick picks up invites that were queued in the pending buffer since the last
// drain and expires every pending invite whose deadline is at or before now.
func (r *Receiver) Tick(ctx context.Context, now time.Time) {
	queued := r.drainBuffer(ctx, now)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	changed := false
	if fresh := r.unknownLocked(queued); len(fresh) > 0 {
		r.items = append(fresh, r.items...)
		changed = true
	}
	var expired []string
	for i := range r.items {
		if r.items[i].Expire(now) {
			expired = append(expired, r.items[i].ID)
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.persist(ctx)
	}
	for _, id := range expired {
		r.announce(ctx, id, models.InviteStatusExpired, now)
	}
}

func (r *Receiver) Accept(ctx context.Context, id string) error {
	return r.decide(ctx, id, models.InviteStatusAccepted)
}

func (r *Receiver) Decline(ctx context.Context, id string) error {
	return r.decide(ctx, id, models.InviteStatusDeclined)
}

func (r *Receiver) decide(ctx context.Context, id string, status models.InviteStatus) error {
	now := r.now()

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return ErrInviteNotFound
	}
	before := r.items[i]
	var err error
	if status == models.InviteStatusAccepted {
		err = r.items[i].Accept(now)
	} else {
		err = r.items[i].Decline(now)
	}
	changed := r.items[i] != before
	expired := before.Status == models.InviteStatusPending && r.items[i].Status == models.InviteStatusExpired
	r.mu.Unlock()

	if changed {
		r.persist(ctx)
	}
	if expired {
		r.announce(ctx, id, models.InviteStatusExpired, now)
	}
	if errors.Is(err, models.ErrInviteNotPending) {
		return ErrNotPending
	}
	if err != nil {
		return err
	}

	if !r.announce(ctx, id, status, now) {
		r.log.Info("decision superseded by stored status", zap.String("invite_id", id), zap.String("status", string(status)))
		return ErrNotPending
	}
	r.log.Info("invite decided", zap.String("invite_id", id), zap.String("status", string(status)))
	return nil
}

// announce publishes a status message for id if the invite still holds status
// after the last write-back. It reports whether the invite holds status.
func (r *Receiver) announce(ctx context.Context, id string, status models.InviteStatus, now time.Time) bool {
	r.mu.Lock()
	i := r.indexLocked(id)
	holds := i >= 0 && r.items[i].Status == status
	r.mu.Unlock()
	if !holds {
		return false
	}

	msg := bus.StatusMessage{ID: id, Status: status, At: now.UnixMilli()}
	if err := r.bus.Publish(ctx, msg); err != nil {
		r.log.Warn("failed to broadcast invite status", zap.String("invite_id", id), zap.Error(err))
	}
	return true
}

func (r *Receiver) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return ErrInviteNotFound
	}
	changed := r.items[i].MarkRead()
	r.mu.Unlock()

	if changed {
		r.persist(ctx)
	}
	return nil
}

// Invite returns the invite with id as currently observed.
func (r *Receiver) Invite(id string) (models.Invite, bool) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return models.Invite{}, false
	}
	inv := r.items[i]
	inv.Expire(now)
	return inv, true
}

// unknownLocked returns the invites in list whose ids the view does not
// have yet, first occurrence kept.
func (r *Receiver) unknownLocked(list []models.Invite) []models.Invite {
	var out []models.Invite
	for _, inv := range dedupe(list) {
		if r.indexLocked(inv.ID) < 0 {
			out = append(out, inv)
		}
	}
	return out
}

func (r *Receiver) indexLocked(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Receiver) snapshotLocked() Snapshot {
	items := make([]models.Invite, len(r.items))
	copy(items, r.items)
	return Snapshot{Items: items, Unread: countUnread(items)}
}

// persist writes the view through a read-modify-write of the stored
// collection, folds the merged result back into the view, mirrors the unread
// count and notifies listeners.
func (r *Receiver) persist(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	local := make([]models.Invite, len(r.items))
	copy(local, r.items)
	r.mu.Unlock()

	written := local
	if r.store != nil {
		err := r.store.Update(ctx, store.KeyInvites, func(cur []byte) ([]byte, error) {
			var stored []models.Invite
			if len(cur) > 0 {
				list, skipped, ok := decodeList(cur, r.dir, now)
				if !ok {
					r.log.Warn("overwriting malformed invite collection")
				} else if skipped > 0 {
					r.log.Warn("dropping malformed invite entries", zap.Int("count", skipped))
				}
				stored = list
			}
			written, _ = merge(local, stored)
			return json.Marshal(written)
		})
		if err != nil {
			r.log.Warn("failed to persist inbox, keeping it in memory", zap.Error(err))
			written = local
		}
	}

	r.mu.Lock()
	r.items, _ = merge(r.items, written)
	snap := r.snapshotLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	if r.store != nil {
		count := []byte(strconv.Itoa(snap.Unread))
		if err := r.store.Set(ctx, store.KeyUnreadCount, count); err != nil {
			r.log.Warn("failed to persist unread count", zap.Error(err))
		}
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

// absorb folds a collection written by another view into this one.
func (r *Receiver) absorb(value []byte) {
	if value == nil {
		return
	}
	stored, _, ok := decodeList(value, r.dir, r.now())
	if !ok {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	merged, changed := merge(r.items, stored)
	if !changed {
		r.mu.Unlock()
		return
	}
	r.items = merged
	snap := r.snapshotLocked()
	listeners := r.listenersLocked()
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (r *Receiver) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(r.listeners))
	for _, fn := range r.listeners {
		out = append(out, fn)
	}
	return out
}

func (r *Receiver) loadCollection(ctx context.Context, now time.Time) []models.Invite {
	if r.store == nil {
		return nil
	}
	data, err := r.store.Get(ctx, store.KeyInvites)
	if errors.Is(err, store.ErrMiss) {
		return nil
	}
	if err != nil {
		r.log.Warn("failed to load invite collection", zap.Error(err))
		return nil
	}
	list, skipped, ok := decodeList(data, r.dir, now)
	if !ok {
		r.log.Warn("ignoring malformed invite collection")
		return nil
	}
	if skipped > 0 {
		r.log.Warn("dropping malformed invite entries", zap.Int("count", skipped))
	}
	return list
}

// drainBuffer takes and clears the pending buffer in one step.
func (r *Receiver) drainBuffer(ctx context.Context, now time.Time) []models.Invite {
	if r.store == nil {
		return nil
	}
	var taken []byte
	err := r.store.Update(ctx, store.KeyPendingBuffer, func(cur []byte) ([]byte, error) {
		taken = cur
		return nil, nil
	})
	if err != nil {
		r.log.Warn("failed to drain pending buffer", zap.Error(err))
		return nil
	}
	if len(taken) == 0 {
		return nil
	}
	list, skipped, ok := decodeList(taken, r.dir, now)
	if !ok {
		r.log.Warn("discarding malformed pending buffer")
		return nil
	}
	if skipped > 0 {
		r.log.Warn("dropping malformed pending entries", zap.Int("count", skipped))
	}
	return list
}
