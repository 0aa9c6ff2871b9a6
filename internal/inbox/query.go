package inbox

import (
	"sort"
	"strings"
	"time"

	"github.com/tariel-x/livedesk/internal/models"
)

const (
	SortCreated = "created"
	SortExpires = "expires"

	StatusAll    = "all"
	StatusUnread = "unread"
)

// Query selects and orders invites for display.
type Query struct {
	// Sort is SortCreated (newest first, the default) or SortExpires
	// (soonest deadline first).
	Sort string
	// Status is empty or StatusAll for everything, StatusUnread, or one of
	// the invite statuses.
	Status string
	Unread bool
	// Text matches a substring of requester, topic, note or id.
	Text string
}

// Items returns the invites matching q as observed at the current time.
func (r *Receiver) Items(q Query) []models.Invite {
	now := r.now()
	r.mu.Lock()
	list := make([]models.Invite, len(r.items))
	copy(list, r.items)
	r.mu.Unlock()

	return Select(list, q, now)
}

// Select applies q to list. Pending invites past their deadline are reported
// as expired.
func Select(list []models.Invite, q Query, now time.Time) []models.Invite {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	out := make([]models.Invite, 0, len(list))
	for _, inv := range list {
		inv.Expire(now)
		if text != "" && !strings.Contains(strings.ToLower(haystack(inv)), text) {
			continue
		}
		if q.Unread && !inv.Unread {
			continue
		}
		switch q.Status {
		case "", StatusAll:
		case StatusUnread:
			if !inv.Unread {
				continue
			}
		default:
			if string(inv.Status) != q.Status {
				continue
			}
		}
		out = append(out, inv)
	}

	if q.Sort == SortExpires {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].ExpiresAt().Before(out[j].ExpiresAt())
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt > out[j].CreatedAt
		})
	}
	return out
}

func haystack(inv models.Invite) string {
	return inv.RequesterName + " " + inv.Topic + " " + inv.Note + " " + inv.ID
}

// Summary is the expert dashboard counters.
type Summary struct {
	Unread        int `json:"unread"`
	Pending       int `json:"pending"`
	AcceptedToday int `json:"acceptedToday"`
	Expired       int `json:"expired"`
	// MeanResponseMs is the mean time from creation to acceptance.
	MeanResponseMs int64 `json:"meanResponseMs"`
}

// Summarize counts unread invites, pending invites still before their
// deadline, invites accepted on now's calendar day and expired invites.
// Pending invites past their deadline count as expired and read.
func Summarize(items []models.Invite, now time.Time) Summary {
	var (
		s         Summary
		responded int
		total     time.Duration
	)
	y, m, d := now.Date()
	for _, inv := range items {
		inv.Expire(now)
		if inv.Unread {
			s.Unread++
		}
		switch inv.Status {
		case models.InviteStatusPending:
			s.Pending++
		case models.InviteStatusExpired:
			s.Expired++
		case models.InviteStatusAccepted:
			at := inv.CreatedAt
			if inv.AcceptedAt > 0 {
				at = inv.AcceptedAt
				total += time.Duration(inv.AcceptedAt-inv.CreatedAt) * time.Millisecond
				responded++
			}
			ay, am, ad := time.UnixMilli(at).In(now.Location()).Date()
			if ay == y && am == m && ad == d {
				s.AcceptedToday++
			}
		}
	}
	if responded > 0 {
		s.MeanResponseMs = (total / time.Duration(responded)).Milliseconds()
	}
	return s
}

// Summary summarizes the view at the current time.
func (r *Receiver) Summary() Summary {
	return Summarize(r.Snapshot().Items, r.now())
}
