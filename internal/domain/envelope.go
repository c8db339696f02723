package domain

import "time"

// ChannelName identifies this adapter in envelopes and health reports.
const ChannelName = "whatsapp"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Party is the sender or recipient of an envelope. ID is a normalized phone number.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Envelope is the provider-agnostic message exchanged with the gateway.
type Envelope struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	Direction Direction      `json:"direction"`
	Sender    Party          `json:"sender"`
	Recipient Party          `json:"recipient"`
	Content   Content        `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   string         `json:"replyTo,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value, or "" when absent or not a string.
func (e Envelope) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// ContentType tags the Content variants.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentDocument ContentType = "document"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
	ContentSticker  ContentType = "sticker"
)

// Content is a closed sum type. Only the variants in this file implement it.
type Content interface {
	Type() ContentType
	isContent()
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type DocumentContent struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type AudioContent struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

type VideoContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// LocationContent coordinates are pointers so that a missing value is
// distinguishable from 0,0.
type LocationContent struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address,omitempty"`
}

type ContactContent struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones,omitempty"`
}

type StickerContent struct {
	URL string `json:"url"`
}

func (TextContent) Type() ContentType     { return ContentText }
func (ImageContent) Type() ContentType    { return ContentImage }
func (DocumentContent) Type() ContentType { return ContentDocument }
func (AudioContent) Type() ContentType    { return ContentAudio }
func (VideoContent) Type() ContentType    { return ContentVideo }
func (LocationContent) Type() ContentType { return ContentLocation }
func (ContactContent) Type() ContentType  { return ContentContact }
func (StickerContent) Type() ContentType  { return ContentSticker }

func (TextContent) isContent()     {}
func (ImageContent) isContent()    {}
func (DocumentContent) isContent() {}
func (AudioContent) isContent()    {}
func (VideoContent) isContent()    {}
func (LocationContent) isContent() {}
func (ContactContent) isContent()  {}
func (StickerContent) isContent()  {}

// SendResult is returned to the gateway for every outbound send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}
