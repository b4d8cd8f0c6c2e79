package push

import (
	"encoding/json"
	"fmt"

	"spark-client/internal/jsontime"
)

type Tag string

const (
	TagNewMessage   Tag = "new_message"
	TagMessagesRead Tag = "messages_read"
	TagNewMatch     Tag = "new_match"
	TagUserBlocked  Tag = "user_blocked"
)

// Event is a decoded inbound frame.
type Event interface {
	Tag() Tag
}

type NewMessage struct {
	SenderID   int           `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Content    string        `json:"content"`
	Timestamp  jsontime.Time `json:"timestamp"`
}

func (NewMessage) Tag() Tag { return TagNewMessage }

// MessagesRead means the remote party read what this client sent.
type MessagesRead struct {
	ReaderID int `json:"reader_id"`
}

func (MessagesRead) Tag() Tag { return TagMessagesRead }

type NewMatch struct {
	UserID int `json:"user_id,omitempty"`
}

func (NewMatch) Tag() Tag { return TagNewMatch }

type UserBlocked struct {
	BlockedBy int `json:"blocked_by"`
}

func (UserBlocked) Tag() Tag { return TagUserBlocked }

// Unknown carries a frame whose tag this client does not handle.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) Tag() Tag { return Tag(u.Type) }

// Outbound is the only frame the client sends.
type Outbound struct {
	ReceiverID int    `json:"receiver_id"`
	Content    string `json:"content"`
}

// Decode parses one inbound frame. Frames with an unrecognised or missing
// type decode to Unknown, not an error.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("push: decode frame: %w", err)
	}

	var ev Event
	switch Tag(head.Type) {
	case TagNewMessage:
		var m NewMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("push: decode %s: %w", head.Type, err)
		}
		ev = m
	case TagMessagesRead:
		var m MessagesRead
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("push: decode %s: %w", head.Type, err)
		}
		ev = m
	case TagNewMatch:
		var m NewMatch
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("push: decode %s: %w", head.Type, err)
		}
		ev = m
	case TagUserBlocked:
		var m UserBlocked
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("push: decode %s: %w", head.Type, err)
		}
		ev = m
	default:
		ev = Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	return ev, nil
}

// Encode renders ev as the backend would send it, with its "type" field.
func Encode(ev Event) ([]byte, error) {
	if u, ok := ev.(Unknown); ok {
		return u.Raw, nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(string(ev.Tag()))
	fields["type"] = tag
	return json.Marshal(fields)
}
