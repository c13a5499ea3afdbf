package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
)

const MessageTypeChange = "change"

// ChangeMessage is the NSQ body for one change event.
type ChangeMessage struct {
	Type           string            `json:"type"`
	OrganizationID string            `json:"organization_id"`
	Received       time.Time         `json:"received"`
	Event          alert.ChangeEvent `json:"event"`
	Meta           *MessageMeta      `json:"meta,omitempty"`
}

type MessageMeta struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

var ErrNotChangeMessage = errors.New("not a change message")

func EncodeChange(ev alert.ChangeEvent, received time.Time, meta *MessageMeta) ([]byte, error) {
	return json.Marshal(ChangeMessage{
		Type:           MessageTypeChange,
		OrganizationID: ev.OrganizationID,
		Received:       received.UTC(),
		Event:          ev,
		Meta:           meta,
	})
}

// DecodeChange parses a queue message. The organization in the envelope wins
// over the one embedded in the event.
func DecodeChange(body []byte) (ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ChangeMessage{}, fmt.Errorf("decode change message: %w", err)
	}
	if msg.Type != MessageTypeChange {
		return ChangeMessage{}, fmt.Errorf("%w: type=%q", ErrNotChangeMessage, msg.Type)
	}
	if msg.OrganizationID != "" {
		msg.Event.OrganizationID = msg.OrganizationID
	}
	return msg, nil
}
