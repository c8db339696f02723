package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelopeJSON is the wire shape of Envelope: content carries a "type" tag.
type envelopeJSON struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Direction Direction       `json:"direction"`
	Sender    Party           `json:"sender"`
	Recipient Party           `json:"recipient"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	content, err := MarshalContent(e.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		ID:        e.ID,
		Channel:   e.Channel,
		Direction: e.Direction,
		Sender:    e.Sender,
		Recipient: e.Recipient,
		Content:   content,
		Timestamp: e.Timestamp,
		ReplyTo:   e.ReplyTo,
		Metadata:  e.Metadata,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content, err := UnmarshalContent(raw.Content)
	if err != nil {
		return err
	}
	*e = Envelope{
		ID:        raw.ID,
		Channel:   raw.Channel,
		Direction: raw.Direction,
		Sender:    raw.Sender,
		Recipient: raw.Recipient,
		Content:   content,
		Timestamp: raw.Timestamp,
		ReplyTo:   raw.ReplyTo,
		Metadata:  raw.Metadata,
	}
	return nil
}

// MarshalContent encodes a content variant with its type tag.
func MarshalContent(c Content) (json.RawMessage, error) {
	if c == nil {
		return json.RawMessage("null"), nil
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = c.Type()
	return json.Marshal(fields)
}

// UnmarshalContent decodes a tagged content object.
func UnmarshalContent(data []byte) (Content, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var tag struct {
		Type ContentType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}

	var (
		c   Content
		err error
	)
	switch tag.Type {
	case ContentText:
		var v TextContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentImage:
		var v ImageContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentDocument:
		var v DocumentContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentAudio:
		var v AudioContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentVideo:
		var v VideoContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentLocation:
		var v LocationContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentContact:
		var v ContactContent
		err = json.Unmarshal(data, &v)
		c = v
	case ContentSticker:
		var v StickerContent
		err = json.Unmarshal(data, &v)
		c = v
	default:
		return nil, fmt.Errorf("content: unknown type %q", tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", tag.Type, err)
	}
	return c, nil
}
