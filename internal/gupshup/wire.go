// Package gupshup speaks the provider's wire protocol: form-encoded sends,
// JSON webhook payloads, and the status codes that go with them.
package gupshup

import "encoding/json"

// Webhook event type tags.
const (
	EventMessage      = "message"
	EventMessageEvent = "message-event"
	EventUserEvent    = "user-event"
)

// Inbound message type tags.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeFile     = "file"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeLocation = "location"
	TypeContact  = "contact"
	TypeSticker  = "sticker"
)

// Webhook is the outer webhook body: {app, timestamp, version, type, payload}.
type Webhook struct {
	App       string          `json:"app"`
	Timestamp int64           `json:"timestamp"`
	Version   int             `json:"version"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// InboundMessage is the payload of a "message" webhook.
type InboundMessage struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Sender    Sender          `json:"sender"`
	Context   *MessageContext `json:"context,omitempty"`
	Timestamp int64           `json:"-"` // copied from the outer webhook, milliseconds
}

type Sender struct {
	Phone       string `json:"phone"`
	Name        string `json:"name"`
	CountryCode string `json:"country_code,omitempty"`
	DialCode    string `json:"dial_code,omitempty"`
}

// MessageContext references the message being replied to.
type MessageContext struct {
	ID   string `json:"id"`
	GsID string `json:"gsId,omitempty"`
}

// TextPayload is the inner payload for text messages.
type TextPayload struct {
	Text string `json:"text"`
}

// MediaPayload is the inner payload for image/file/audio/video/sticker.
type MediaPayload struct {
	URL         string `json:"url"`
	Caption     string `json:"caption,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

type LocationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
}

type ContactPayload struct {
	Contacts []WireContact `json:"contacts"`
}

type WireContact struct {
	Name   ContactName  `json:"name"`
	Phones []ContactTel `json:"phones"`
}

type ContactName struct {
	FormattedName string `json:"formatted_name"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
}

type ContactTel struct {
	Phone string `json:"phone"`
	Type  string `json:"type,omitempty"`
}

// MessageEvent is the payload of a "message-event" webhook (delivery status).
type MessageEvent struct {
	ID          string          `json:"id"`
	GsID        string          `json:"gsId,omitempty"`
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MessageEventDetail carries failure details inside a failed message-event.
type MessageEventDetail struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
	TS     int64  `json:"ts"`
}

// UserEvent is the payload of a "user-event" webhook (opt-in/opt-out).
type UserEvent struct {
	Phone string `json:"phone"`
	Type  string `json:"type"`
}

// OutboundMessage is the JSON placed in the "message" form field. Exactly the
// fields for Type are populated.
type OutboundMessage struct {
	Type        string   `json:"type"`
	Text        string   `json:"text,omitempty"`
	OriginalURL string   `json:"originalUrl,omitempty"`
	PreviewURL  string   `json:"previewUrl,omitempty"`
	URL         string   `json:"url,omitempty"`
	Caption     string   `json:"caption,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Name        string   `json:"name,omitempty"`
	Address     string   `json:"address,omitempty"`
}

// TemplateMessage is the JSON placed in the "template" form field.
type TemplateMessage struct {
	ID     string   `json:"id"`
	Params []string `json:"params"`
}
