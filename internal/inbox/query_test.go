package inbox

import (
	"testing"
	"time"

	"github.com/tariel-x/livedesk/internal/models"
)

func invite(id string, created time.Time, ttl int, status models.InviteStatus, unread bool) models.Invite {
	return models.Invite{
		ID:            id,
		ExpertID:      "1",
		RequesterName: "Requester " + id,
		Topic:         "Topic " + id,
		CreatedAt:     created.UnixMilli(),
		TTLSeconds:    ttl,
		Status:        status,
		Unread:        unread,
	}
}

func ids(list []models.Invite) string {
	out := ""
	for _, inv := range list {
		out += inv.ID
	}
	return out
}

func TestSelectOrdering(t *testing.T) {
	list := []models.Invite{
		invite("a", base, 600, models.InviteStatusPending, true),
		invite("b", base.Add(time.Minute), 60, models.InviteStatusPending, true),
		invite("c", base.Add(2*time.Minute), 300, models.InviteStatusPending, false),
	}

	if got := ids(Select(list, Query{}, base)); got != "cba" {
		t.Fatalf("default order should be newest first, got %s", got)
	}
	// Deadlines: a=base+600s, b=base+120s, c=base+420s.
	if got := ids(Select(list, Query{Sort: SortExpires}, base)); got != "bca" {
		t.Fatalf("expires order should be soonest first, got %s", got)
	}
}

func TestSelectFilters(t *testing.T) {
	list := []models.Invite{
		invite("a", base, 180, models.InviteStatusPending, true),
		invite("b", base, 180, models.InviteStatusAccepted, false),
		invite("c", base.Add(-time.Hour), 60, models.InviteStatusPending, false),
	}
	list[0].Note = "Inheritance of a house"

	if got := ids(Select(list, Query{Status: StatusUnread}, base)); got != "a" {
		t.Fatalf("unread tab: got %s", got)
	}
	if got := ids(Select(list, Query{Unread: true}, base)); got != "a" {
		t.Fatalf("unread flag: got %s", got)
	}
	if got := ids(Select(list, Query{Status: "accepted"}, base)); got != "b" {
		t.Fatalf("accepted tab: got %s", got)
	}
	if got := ids(Select(list, Query{Status: "expired"}, base)); got != "c" {
		t.Fatalf("overdue pending should show as expired: got %s", got)
	}
	if got := ids(Select(list, Query{Text: "inheritance"}, base)); got != "a" {
		t.Fatalf("text search: got %s", got)
	}
	if got := len(Select(list, Query{Status: StatusAll}, base)); got != 3 {
		t.Fatalf("all tab: got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	now := base
	accepted := invite("acc", now.Add(-2*time.Minute), 180, models.InviteStatusAccepted, false)
	accepted.AcceptedAt = now.Add(-time.Minute).UnixMilli()
	oldAccepted := invite("old", now.Add(-72*time.Hour), 180, models.InviteStatusAccepted, false)
	oldAccepted.AcceptedAt = now.Add(-72*time.Hour + 3*time.Minute).UnixMilli()

	items := []models.Invite{
		invite("live", now, 180, models.InviteStatusPending, true),
		invite("overdue", now.Add(-time.Hour), 60, models.InviteStatusPending, true),
		invite("gone", now.Add(-time.Hour), 60, models.InviteStatusExpired, false),
		accepted,
		oldAccepted,
	}

	s := Summarize(items, now)
	// "overdue" has not been ticked yet but already counts as expired and read.
	if s.Unread != 1 || s.Pending != 1 || s.Expired != 2 || s.AcceptedToday != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	// (60s + 180s) / 2
	if s.MeanResponseMs != 120_000 {
		t.Fatalf("expected mean response 120000ms, got %d", s.MeanResponseMs)
	}
}

func TestMerge(t *testing.T) {
	local := []models.Invite{
		invite("a", base, 180, models.InviteStatusPending, true),
		invite("b", base, 180, models.InviteStatusAccepted, false),
		invite("c", base, 180, models.InviteStatusPending, false),
	}
	stored := []models.Invite{
		invite("a", base, 180, models.InviteStatusDeclined, false),
		invite("b", base, 180, models.InviteStatusPending, true),
		invite("c", base, 180, models.InviteStatusPending, true),
		invite("d", base, 180, models.InviteStatusPending, true),
	}

	merged, changed := merge(local, stored)
	if !changed {
		t.Fatalf("expected a change")
	}
	if ids(merged) != "abcd" {
		t.Fatalf("unexpected order %s", ids(merged))
	}
	if merged[0].Status != models.InviteStatusDeclined {
		t.Fatalf("stored terminal status should win over local pending, got %s", merged[0].Status)
	}
	if merged[1].Status != models.InviteStatusAccepted {
		t.Fatalf("local terminal status should win over stored pending, got %s", merged[1].Status)
	}
	if merged[2].Unread {
		t.Fatalf("unread cleared on either side should stay cleared")
	}

	again, changed := merge(merged, merged)
	if changed || ids(again) != "abcd" {
		t.Fatalf("merging with itself should be a no-op")
	}
}

func TestDedupeFirstWins(t *testing.T) {
	first := invite("x", base, 180, models.InviteStatusPending, true)
	first.Topic = "first"
	second := first
	second.Topic = "second"

	out := dedupe([]models.Invite{first, second, first})
	if len(out) != 1 || out[0].Topic != "first" {
		t.Fatalf("unexpected dedupe result: %+v", out)
	}
	if again := dedupe(out); len(again) != 1 || again[0] != out[0] {
		t.Fatalf("dedupe should be idempotent")
	}
}
