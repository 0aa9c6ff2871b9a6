package models

import (
	"errors"
	"strings"
	"time"
)

// InviteStatus is the lifecycle state of a consultation invite.
// Keep values stable because they are persisted and sent over the bus.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusDeclined InviteStatus = "declined"
	InviteStatusExpired  InviteStatus = "expired"
)

const (
	MinTTLSeconds     = 30
	MaxTTLSeconds     = 600
	DefaultTTLSeconds = 180
)

const (
	AnonymousRequester = "Anonymous"
	DefaultTopic       = "Consultation request"
)

var ErrInviteNotPending = errors.New("invite is not pending")

// Valid reports whether s is one of the known statuses.
func (s InviteStatus) Valid() bool {
	switch s {
	case InviteStatusPending, InviteStatusAccepted, InviteStatusDeclined, InviteStatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s InviteStatus) Terminal() bool {
	return s == InviteStatusAccepted || s == InviteStatusDeclined || s == InviteStatusExpired
}

// Invite is a time-boxed consultation request from a requester to an expert.
// CreatedAt and TTLSeconds never change after creation.
type Invite struct {
	ID            string       `json:"id"`
	ExpertID      string       `json:"expertId"`
	ExpertName    string       `json:"expertName,omitempty"`
	RequesterName string       `json:"requesterName"`
	Topic         string       `json:"topic"`
	Note          string       `json:"note,omitempty"`
	CreatedAt     int64        `json:"createdAt"`
	TTLSeconds    int          `json:"ttlSeconds"`
	Status        InviteStatus `json:"status"`
	Unread        bool         `json:"unread"`
	AcceptedAt    int64        `json:"acceptedAt,omitempty"`
}

// ClampTTL forces ttl into [MinTTLSeconds, MaxTTLSeconds].
func ClampTTL(ttl int) int {
	if ttl < MinTTLSeconds {
		return MinTTLSeconds
	}
	if ttl > MaxTTLSeconds {
		return MaxTTLSeconds
	}
	return ttl
}

func NormalizeRequesterName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return AnonymousRequester
	}
	return name
}

func NormalizeTopic(topic string) string {
	if topic = strings.TrimSpace(topic); topic == "" {
		return DefaultTopic
	}
	return topic
}

// ExpiresAt is createdAt + ttlSeconds.
func (i Invite) ExpiresAt() time.Time {
	return time.UnixMilli(i.CreatedAt + int64(i.TTLSeconds)*1000)
}

// Remaining returns the time left before the deadline, never negative.
func (i Invite) Remaining(now time.Time) time.Duration {
	left := i.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expire promotes a pending invite whose deadline has passed to expired.
// It reports whether the invite changed.
func (i *Invite) Expire(now time.Time) bool {
	if i.Status != InviteStatusPending || i.Remaining(now) > 0 {
		return false
	}
	i.Status = InviteStatusExpired
	i.Unread = false
	return true
}

// Accept moves a pending invite to accepted and stamps AcceptedAt.
// An invite that is already past its deadline is expired instead.
func (i *Invite) Accept(now time.Time) error {
	if err := i.checkActionable(now); err != nil {
		return err
	}
	i.Status = InviteStatusAccepted
	i.Unread = false
	i.AcceptedAt = now.UnixMilli()
	return nil
}

func (i *Invite) Decline(now time.Time) error {
	if err := i.checkActionable(now); err != nil {
		return err
	}
	i.Status = InviteStatusDeclined
	i.Unread = false
	return nil
}

// MarkRead clears the unread flag. It reports whether the flag was set.
func (i *Invite) MarkRead() bool {
	if !i.Unread {
		return false
	}
	i.Unread = false
	return true
}

func (i *Invite) checkActionable(now time.Time) error {
	i.Expire(now)
	if i.Status != InviteStatusPending {
		return ErrInviteNotPending
	}
	return nil
}
