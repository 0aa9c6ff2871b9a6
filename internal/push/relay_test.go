package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/config"
	"github.com/tariel-x/livedesk/internal/database"
	"github.com/tariel-x/livedesk/internal/models"
)

type sentPush struct {
	endpoint string
	payload  []byte
	ttl      int
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentPush
	status map[string]int
	fail   map[string]error
}

func (f *fakeSender) Send(_ context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sub.Endpoint]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, payload: payload, ttl: opts.TTL})
	status := http.StatusCreated
	if s, ok := f.status[sub.Endpoint]; ok {
		status = s
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "push.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func validKeys() (string, string) {
	point := make([]byte, 65)
	point[0] = 0x04
	for i := 1; i < len(point); i++ {
		point[i] = byte(i)
	}
	secret := bytes.Repeat([]byte{7}, 16)
	return base64.RawURLEncoding.EncodeToString(point), base64.StdEncoding.EncodeToString(secret)
}

func newRelay(t *testing.T, sender Sender) (*Relay, *gorm.DB) {
	db := openDB(t)
	cfg := config.PushConfig{Enabled: true, Subject: "mailto:test@example.com", VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}
	return NewRelay(db, cfg, nil, WithSender(sender)), db
}

func TestSubscribeValidatesKeys(t *testing.T) {
	r, _ := newRelay(t, &fakeSender{})
	p256dh, auth := validKeys()

	if _, err := r.Subscribe(context.Background(), "1", "https://push.example/a", "short", auth); !errors.Is(err, ErrInvalidKeys) {
		t.Fatalf("expected ErrInvalidKeys for p256dh, got %v", err)
	}
	if _, err := r.Subscribe(context.Background(), "1", "https://push.example/a", p256dh, "AAAA"); !errors.Is(err, ErrInvalidKeys) {
		t.Fatalf("expected ErrInvalidKeys for auth, got %v", err)
	}
	sub, err := r.Subscribe(context.Background(), "1", "https://push.example/a", p256dh, auth)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.ID == "" || sub.ExpertID != "1" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestSubscribeSameEndpointMovesIt(t *testing.T) {
	r, db := newRelay(t, &fakeSender{})
	p256dh, auth := validKeys()
	ctx := context.Background()

	first, err := r.Subscribe(ctx, "1", "https://push.example/a", p256dh, auth)
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	second, err := r.Subscribe(ctx, "2", "https://push.example/a", p256dh, auth)
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if first.ID != second.ID || second.ExpertID != "2" {
		t.Fatalf("expected the same row moved to expert 2: %+v %+v", first, second)
	}

	var count int64
	db.Model(&models.PushSubscription{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 subscription, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	r, _ := newRelay(t, &fakeSender{})
	p256dh, auth := validKeys()
	ctx := context.Background()

	if _, err := r.Subscribe(ctx, "1", "https://push.example/a", p256dh, auth); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Unsubscribe(ctx, "2", "https://push.example/a"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("other expert must not unsubscribe, got %v", err)
	}
	if err := r.Unsubscribe(ctx, "1", "https://push.example/a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := r.Unsubscribe(ctx, "1", "https://push.example/a"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestNotifySendsAndPrunesGoneEndpoints(t *testing.T) {
	sender := &fakeSender{
		status: map[string]int{"https://push.example/gone": http.StatusGone},
		fail:   map[string]error{"https://push.example/broken": errors.New("connection reset")},
	}
	r, db := newRelay(t, sender)
	p256dh, auth := validKeys()
	ctx := context.Background()

	for _, endpoint := range []string{"https://push.example/ok", "https://push.example/gone", "https://push.example/broken"} {
		if _, err := r.Subscribe(ctx, "1", endpoint, p256dh, auth); err != nil {
			t.Fatalf("subscribe %s: %v", endpoint, err)
		}
	}
	if _, err := r.Subscribe(ctx, "2", "https://push.example/other", p256dh, auth); err != nil {
		t.Fatalf("subscribe other: %v", err)
	}

	created := time.Unix(1_700_000_000, 0)
	r.Notify(ctx, bus.AddMessage{ID: "inv", ExpertID: "1", RequesterName: "Sato", Topic: "Payroll", CreatedAt: created.UnixMilli(), TTLSeconds: 90, Unread: true})

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.sent))
	}
	for _, s := range sender.sent {
		if s.endpoint == "https://push.example/other" {
			t.Fatalf("other expert must not be notified")
		}
		if s.ttl != 90 {
			t.Fatalf("push ttl should follow invite ttl, got %d", s.ttl)
		}
	}

	var n Notification
	if err := json.Unmarshal(sender.sent[0].payload, &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if n.Data.InviteID != "inv" || n.Body != "Sato: Payroll" || n.Data.ExpiresAt != created.Add(90*time.Second).UnixMilli() {
		t.Fatalf("unexpected payload: %+v", n)
	}

	var remaining []models.PushSubscription
	db.Where(&models.PushSubscription{ExpertID: "1"}).Find(&remaining)
	if len(remaining) != 2 {
		t.Fatalf("expected the gone endpoint to be removed, %d left", len(remaining))
	}
	for _, sub := range remaining {
		if sub.Endpoint == "https://push.example/gone" {
			t.Fatalf("gone endpoint still stored")
		}
	}
}

func TestStartRelaysAddMessages(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newRelay(t, sender)
	p256dh, auth := validKeys()
	if _, err := r.Subscribe(context.Background(), "1", "https://push.example/ok", p256dh, auth); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b := bus.NewLocal(4, nil)
	r.Start(b)
	_ = b.Publish(context.Background(), bus.StatusMessage{ID: "x", Status: models.InviteStatusAccepted})
	_ = b.Publish(context.Background(), bus.AddMessage{ID: "x", ExpertID: "1", TTLSeconds: 60})
	_ = b.Close()
	r.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("expected one push for the add message, got %d", len(sender.sent))
	}
}
