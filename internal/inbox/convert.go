package inbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/experts"
	"github.com/tariel-x/livedesk/internal/models"
)

// decodeList parses a persisted JSON array. Entries may be creation payloads
// (as queued in the pending buffer) or stored invites. Entries that are
// neither are skipped; a value that is not an array yields ok == false.
func decodeList(data []byte, dir *experts.Directory, now time.Time) (list []models.Invite, skipped int, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, false
	}
	list = make([]models.Invite, 0, len(raw))
	for _, entry := range raw {
		inv, valid := decodeEntry(entry, dir, now)
		if !valid {
			skipped++
			continue
		}
		list = append(list, inv)
	}
	return list, skipped, true
}

func decodeEntry(data []byte, dir *experts.Directory, now time.Time) (models.Invite, bool) {
	var head struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return models.Invite{}, false
	}

	if head.Type == bus.TypeAdd || (head.Type == "" && head.Status == "") {
		add, err := bus.DecodeAdd(data)
		if err != nil {
			return models.Invite{}, false
		}
		return fromAdd(add, dir, now), true
	}
	if head.Type != "" {
		return models.Invite{}, false
	}

	var inv models.Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		return models.Invite{}, false
	}
	inv.ID = strings.TrimSpace(inv.ID)
	if inv.ID == "" || !inv.Status.Valid() {
		return models.Invite{}, false
	}
	inv.TTLSeconds = models.ClampTTL(inv.TTLSeconds)
	inv.RequesterName = models.NormalizeRequesterName(inv.RequesterName)
	inv.Topic = models.NormalizeTopic(inv.Topic)
	if inv.CreatedAt <= 0 {
		inv.CreatedAt = now.UnixMilli()
	}
	if inv.ExpertName == "" {
		inv.ExpertName = dir.DisplayName(inv.ExpertID)
	}
	if inv.Status.Terminal() {
		inv.Unread = false
	}
	return inv, true
}

// fromAdd builds the inbox entry for a newly announced invite.
func fromAdd(m bus.AddMessage, dir *experts.Directory, now time.Time) models.Invite {
	inv := m.Invite()
	if inv.CreatedAt <= 0 {
		inv.CreatedAt = now.UnixMilli()
	}
	inv.ExpertName = dir.DisplayName(inv.ExpertID)
	return inv
}

// dedupe keeps the first occurrence of every id.
func dedupe(list []models.Invite) []models.Invite {
	seen := make(map[string]struct{}, len(list))
	out := make([]models.Invite, 0, len(list))
	for _, inv := range list {
		if _, ok := seen[inv.ID]; ok {
			continue
		}
		seen[inv.ID] = struct{}{}
		out = append(out, inv)
	}
	return out
}

// statusRank orders statuses for merging: terminal beats pending.
func statusRank(s models.InviteStatus) int {
	if s.Terminal() {
		return 1
	}
	return 0
}

// merge reconciles the local view with the stored collection. For ids present
// on both sides a terminal status wins over pending, the stored side wins
// between two terminal statuses, and unread stays set only if both sides have
// it set. Ids present on one side only are kept. Local order comes first.
func merge(local, stored []models.Invite) (merged []models.Invite, changed bool) {
	byID := make(map[string]int, len(stored))
	for i, inv := range stored {
		if _, ok := byID[inv.ID]; !ok {
			byID[inv.ID] = i
		}
	}

	merged = make([]models.Invite, 0, len(local)+len(stored))
	used := make(map[string]struct{}, len(local))
	for _, l := range local {
		if _, dup := used[l.ID]; dup {
			continue
		}
		used[l.ID] = struct{}{}

		i, ok := byID[l.ID]
		if !ok {
			merged = append(merged, l)
			continue
		}
		s := stored[i]
		next := l
		if statusRank(s.Status) > statusRank(l.Status) || (s.Status.Terminal() && l.Status.Terminal()) {
			next.Status = s.Status
			next.AcceptedAt = s.AcceptedAt
		}
		next.Unread = l.Unread && s.Unread
		if next.Status.Terminal() {
			next.Unread = false
		}
		if next != l {
			changed = true
		}
		merged = append(merged, next)
	}
	for _, s := range stored {
		if _, ok := used[s.ID]; ok {
			continue
		}
		used[s.ID] = struct{}{}
		merged = append(merged, s)
		changed = true
	}
	return merged, changed
}

func countUnread(list []models.Invite) int {
	n := 0
	for _, inv := range list {
		if inv.Unread {
			n++
		}
	}
	return n
}
