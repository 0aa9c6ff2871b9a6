// Package push relays new invites to the target expert's browsers as web
// push notifications. Delivery is best effort.
package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/config"
	"github.com/tariel-x/livedesk/internal/models"
)

var (
	ErrInvalidKeys          = errors.New("push: invalid subscription keys")
	ErrSubscriptionNotFound = errors.New("push: subscription not found")
)

// Sender delivers one encrypted notification.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

type webpushSender struct{}

func (webpushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, opts)
}

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

type NotificationData struct {
	InviteID  string `json:"inviteId"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expiresAt"`
}

type Relay struct {
	db     *gorm.DB
	cfg    config.PushConfig
	sender Sender
	log    *zap.Logger

	cancel func()
}

type Option func(*Relay)

func WithSender(s Sender) Option {
	return func(r *Relay) { r.sender = s }
}

func NewRelay(db *gorm.DB, cfg config.PushConfig, log *zap.Logger, opts ...Option) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		db:     db,
		cfg:    cfg,
		sender: webpushSender{},
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) PublicKey() string { return r.cfg.VAPIDPublicKey }

// Start forwards every add message published on b.
func (r *Relay) Start(b bus.Bus) {
	r.cancel = b.Subscribe(func(m bus.Message) {
		add, ok := m.(bus.AddMessage)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.Notify(ctx, add)
	})
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Subscribe registers a browser endpoint for expertID. Registering a known
// endpoint again moves it to expertID and refreshes its keys.
func (r *Relay) Subscribe(ctx context.Context, expertID, endpoint, p256dh, auth string) (models.PushSubscription, error) {
	p256dh, auth = strings.TrimSpace(p256dh), strings.TrimSpace(auth)
	if err := validateKeys(p256dh, auth); err != nil {
		return models.PushSubscription{}, err
	}

	sub := models.PushSubscription{
		ExpertID: expertID,
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"expert_id", "p256dh", "auth", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return models.PushSubscription{}, fmt.Errorf("push: save subscription: %w", err)
	}

	var saved models.PushSubscription
	if err := r.db.WithContext(ctx).Where(&models.PushSubscription{Endpoint: endpoint}).Take(&saved).Error; err != nil {
		return models.PushSubscription{}, fmt.Errorf("push: reload subscription: %w", err)
	}
	r.log.Info("push subscription saved", zap.String("expert_id", expertID), zap.String("subscription_id", saved.ID))
	return saved, nil
}

func (r *Relay) Unsubscribe(ctx context.Context, expertID, endpoint string) error {
	res := r.db.WithContext(ctx).
		Where(&models.PushSubscription{ExpertID: expertID, Endpoint: endpoint}).
		Delete(&models.PushSubscription{})
	if res.Error != nil {
		return fmt.Errorf("push: delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Notify sends m to every subscription of its expert. Failures are logged;
// endpoints the push service reports as gone are removed.
func (r *Relay) Notify(ctx context.Context, m bus.AddMessage) {
	logger := r.log.With(zap.String("invite_id", m.ID), zap.String("expert_id", m.ExpertID))

	var subs []models.PushSubscription
	if err := r.db.WithContext(ctx).Where(&models.PushSubscription{ExpertID: m.ExpertID}).Find(&subs).Error; err != nil {
		logger.Warn("failed to load push subscriptions", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	inv := m.Invite()
	payload, err := json.Marshal(Notification{
		Title: "New consultation request",
		Body:  inv.RequesterName + ": " + inv.Topic,
		Data: NotificationData{
			InviteID:  inv.ID,
			URL:       "/inbox",
			ExpiresAt: inv.ExpiresAt().UnixMilli(),
		},
	})
	if err != nil {
		logger.Warn("failed to encode push payload", zap.Error(err))
		return
	}

	opts := &webpush.Options{
		Subscriber:      r.cfg.Subject,
		VAPIDPublicKey:  r.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: r.cfg.VAPIDPrivateKey,
		TTL:             inv.TTLSeconds,
		Urgency:         webpush.UrgencyHigh,
	}

	sent := 0
	for _, sub := range subs {
		resp, err := r.sender.Send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
		}, opts)
		if err != nil {
			logger.Warn("push delivery failed", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		status := resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}

		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			logger.Info("removing expired push subscription", zap.String("subscription_id", sub.ID), zap.Int("status", status))
			if err := r.db.WithContext(ctx).Delete(&sub).Error; err != nil {
				logger.Warn("failed to remove push subscription", zap.String("subscription_id", sub.ID), zap.Error(err))
			}
		case status >= 400:
			logger.Warn("push service rejected notification", zap.String("subscription_id", sub.ID), zap.Int("status", status))
		default:
			sent++
		}
	}
	logger.Debug("push relay done", zap.Int("sent", sent), zap.Int("subscriptions", len(subs)))
}

// validateKeys checks that p256dh is an uncompressed P-256 point and auth a
// 16-byte secret, both base64 in any of the common alphabets.
func validateKeys(p256dh, auth string) error {
	key, err := decodeKey(p256dh)
	if err != nil || len(key) != 65 || key[0] != 0x04 {
		return fmt.Errorf("%w: p256dh", ErrInvalidKeys)
	}
	secret, err := decodeKey(auth)
	if err != nil || len(secret) != 16 {
		return fmt.Errorf("%w: auth", ErrInvalidKeys)
	}
	return nil
}

func decodeKey(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}
