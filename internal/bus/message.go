package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tariel-x/livedesk/internal/models"
)

const (
	TypeAdd    = "add"
	TypeStatus = "status"
)

// Message is one of AddMessage or StatusMessage.
type Message interface {
	Type() string
}

// AddMessage announces a newly created invite.
type AddMessage struct {
	ID            string `json:"id"`
	ExpertID      string `json:"expertId"`
	RequesterName string `json:"requesterName"`
	Topic         string `json:"topic"`
	Note          string `json:"note,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	TTLSeconds    int    `json:"ttlSeconds"`
	Unread        bool   `json:"unread"`
}

func (AddMessage) Type() string { return TypeAdd }

func (m AddMessage) MarshalJSON() ([]byte, error) {
	type wire AddMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{TypeAdd, wire(m)})
}

// NewAddMessage builds the announcement for a freshly created invite.
func NewAddMessage(inv models.Invite) AddMessage {
	return AddMessage{
		ID:            inv.ID,
		ExpertID:      inv.ExpertID,
		RequesterName: inv.RequesterName,
		Topic:         inv.Topic,
		Note:          inv.Note,
		CreatedAt:     inv.CreatedAt,
		TTLSeconds:    inv.TTLSeconds,
		Unread:        inv.Unread,
	}
}

// Invite converts the announcement into a pending invite with normalized
// placeholders and a clamped TTL.
func (m AddMessage) Invite() models.Invite {
	return models.Invite{
		ID:            m.ID,
		ExpertID:      m.ExpertID,
		RequesterName: models.NormalizeRequesterName(m.RequesterName),
		Topic:         models.NormalizeTopic(m.Topic),
		Note:          strings.TrimSpace(m.Note),
		CreatedAt:     m.CreatedAt,
		TTLSeconds:    models.ClampTTL(m.TTLSeconds),
		Status:        models.InviteStatusPending,
		Unread:        m.Unread,
	}
}

// StatusMessage reports that an invite reached a terminal status.
type StatusMessage struct {
	ID     string              `json:"id"`
	Status models.InviteStatus `json:"status"`
	At     int64               `json:"at"`
}

func (StatusMessage) Type() string { return TypeStatus }

func (m StatusMessage) MarshalJSON() ([]byte, error) {
	type wire StatusMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		wire
	}{TypeStatus, wire(m)})
}

func Encode(m Message) ([]byte, error) {
	switch m.(type) {
	case AddMessage, StatusMessage:
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

// Decode parses a wire payload. Payloads with an unknown type or missing
// identity fields yield ErrUnknownMessage.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch head.Type {
	case TypeAdd:
		m, err := DecodeAdd(data)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeStatus:
		var m StatusMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
		}
		if m.ID == "" || !m.Status.Valid() {
			return nil, fmt.Errorf("%w: incomplete status message", ErrUnknownMessage)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownMessage, head.Type)
	}
}

// DecodeAdd parses an invite creation payload with or without its type tag.
// The older clientName and ttlSec field names are accepted as well.
func DecodeAdd(data []byte) (AddMessage, error) {
	var raw struct {
		ID            json.RawMessage `json:"id"`
		ExpertID      json.RawMessage `json:"expertId"`
		RequesterName string          `json:"requesterName"`
		ClientName    string          `json:"clientName"`
		Topic         string          `json:"topic"`
		Note          string          `json:"note"`
		CreatedAt     json.Number     `json:"createdAt"`
		TTLSeconds    any             `json:"ttlSeconds"`
		TTLSec        any             `json:"ttlSec"`
		Unread        json.RawMessage `json:"unread"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return AddMessage{}, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if raw.RequesterName == "" {
		raw.RequesterName = raw.ClientName
	}
	if raw.TTLSeconds == nil {
		raw.TTLSeconds = raw.TTLSec
	}

	m := AddMessage{
		ID:            scalarString(raw.ID),
		ExpertID:      scalarString(raw.ExpertID),
		RequesterName: raw.RequesterName,
		Topic:         raw.Topic,
		Note:          raw.Note,
		TTLSeconds:    models.CoerceTTL(raw.TTLSeconds),
		Unread:        decodeFlag(raw.Unread, true),
	}
	if m.ID == "" || m.ExpertID == "" {
		return AddMessage{}, fmt.Errorf("%w: add message without id or expertId", ErrUnknownMessage)
	}
	if raw.CreatedAt != "" {
		f, err := raw.CreatedAt.Float64()
		if err != nil {
			return AddMessage{}, fmt.Errorf("%w: createdAt: %v", ErrUnknownMessage, err)
		}
		m.CreatedAt = int64(f)
	}
	return m, nil
}

// scalarString accepts ids encoded either as strings or as numbers.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeFlag reads a boolean that older producers sent as a count.
func decodeFlag(raw json.RawMessage, fallback bool) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return fallback
}
