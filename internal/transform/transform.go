// Package transform maps between provider wire payloads and envelopes.
// Everything here is pure: no I/O, no logging, no shared state.
package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wabridge/internal/domain"
	"wabridge/internal/gupshup"
)

// MaxTemplateParam is the longest template parameter the provider accepts.
const MaxTemplateParam = 1024

// ToEnvelope converts an inbound provider message addressed to recipientPhone.
// Unknown message types become a text placeholder; it never fails.
func ToEnvelope(msg gupshup.InboundMessage, recipientPhone string) domain.Envelope {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	from := msg.Sender.Phone
	if from == "" {
		from = msg.Source
	}

	env := domain.Envelope{
		ID:        id,
		Channel:   domain.ChannelName,
		Direction: domain.DirectionInbound,
		Sender:    domain.Party{ID: domain.NormalizePhone(from), Name: msg.Sender.Name},
		Recipient: domain.Party{ID: domain.NormalizePhone(recipientPhone)},
		Content:   inboundContent(msg.Type, msg.Payload),
		Timestamp: ts,
		Metadata:  map[string]any{"providerType": msg.Type},
	}
	if msg.Context != nil {
		env.ReplyTo = msg.Context.ID
	}
	return env
}

// KnownType reports whether an inbound type tag has an envelope variant.
func KnownType(kind string) bool {
	switch kind {
	case gupshup.TypeText, gupshup.TypeImage, gupshup.TypeFile, gupshup.TypeAudio,
		gupshup.TypeVideo, gupshup.TypeSticker, gupshup.TypeLocation, gupshup.TypeContact:
		return true
	}
	return false
}

// Unsupported is the placeholder text for inbound types with no envelope variant.
func Unsupported(kind string) string {
	return fmt.Sprintf("[Unsupported message type: %s]", kind)
}

// inboundContent decodes the type-specific payload. A payload that fails to
// decode yields the variant with empty fields rather than an error.
func inboundContent(kind string, raw json.RawMessage) domain.Content {
	switch kind {
	case gupshup.TypeText:
		var p gupshup.TextPayload
		decode(raw, &p)
		return domain.TextContent{Text: p.Text}
	case gupshup.TypeImage:
		p := decodeMedia(raw)
		return domain.ImageContent{URL: p.URL, Caption: p.Caption, MimeType: p.ContentType}
	case gupshup.TypeFile:
		p := decodeMedia(raw)
		return domain.DocumentContent{URL: p.URL, Filename: p.Name, Caption: p.Caption, MimeType: p.ContentType}
	case gupshup.TypeAudio:
		p := decodeMedia(raw)
		return domain.AudioContent{URL: p.URL, MimeType: p.ContentType}
	case gupshup.TypeVideo:
		p := decodeMedia(raw)
		return domain.VideoContent{URL: p.URL, Caption: p.Caption, MimeType: p.ContentType}
	case gupshup.TypeSticker:
		p := decodeMedia(raw)
		return domain.StickerContent{URL: p.URL}
	case gupshup.TypeLocation:
		var p gupshup.LocationPayload
		decode(raw, &p)
		return domain.LocationContent{Latitude: p.Latitude, Longitude: p.Longitude, Name: p.Name, Address: p.Address}
	case gupshup.TypeContact:
		var p gupshup.ContactPayload
		decode(raw, &p)
		return contactContent(p)
	default:
		return domain.TextContent{Text: Unsupported(kind)}
	}
}

func decode(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func decodeMedia(raw json.RawMessage) gupshup.MediaPayload {
	var p gupshup.MediaPayload
	decode(raw, &p)
	return p
}

// contactContent keeps the first shared contact. Cards with several contacts
// are rare and the envelope carries one.
func contactContent(p gupshup.ContactPayload) domain.ContactContent {
	if len(p.Contacts) == 0 {
		return domain.ContactContent{}
	}
	c := p.Contacts[0]
	name := c.Name.FormattedName
	if name == "" {
		name = strings.TrimSpace(c.Name.FirstName + " " + c.Name.LastName)
	}
	out := domain.ContactContent{Name: name}
	for _, tel := range c.Phones {
		if tel.Phone != "" {
			out.Phones = append(out.Phones, tel.Phone)
		}
	}
	return out
}

// ToWireMessage converts an outbound envelope to the provider message body.
// Location content without both coordinates is a ValidationError. Content
// with no wire equivalent falls back to text.
func ToWireMessage(env domain.Envelope) (gupshup.OutboundMessage, error) {
	switch c := env.Content.(type) {
	case domain.TextContent:
		return gupshup.OutboundMessage{Type: gupshup.TypeText, Text: c.Text}, nil
	case domain.ImageContent:
		return gupshup.OutboundMessage{
			Type:        gupshup.TypeImage,
			OriginalURL: c.URL,
			PreviewURL:  c.URL,
			Caption:     c.Caption,
		}, nil
	case domain.DocumentContent:
		return gupshup.OutboundMessage{
			Type:     gupshup.TypeFile,
			URL:      c.URL,
			Filename: c.Filename,
			Caption:  c.Caption,
		}, nil
	case domain.AudioContent:
		return gupshup.OutboundMessage{Type: gupshup.TypeAudio, URL: c.URL}, nil
	case domain.VideoContent:
		return gupshup.OutboundMessage{Type: gupshup.TypeVideo, URL: c.URL, Caption: c.Caption}, nil
	case domain.StickerContent:
		return gupshup.OutboundMessage{Type: gupshup.TypeSticker, URL: c.URL}, nil
	case domain.LocationContent:
		if c.Latitude == nil || c.Longitude == nil {
			return gupshup.OutboundMessage{}, &domain.ValidationError{
				Field: "location",
				Msg:   "latitude and longitude are required",
			}
		}
		return gupshup.OutboundMessage{
			Type:      gupshup.TypeLocation,
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Name:      c.Name,
			Address:   c.Address,
		}, nil
	case domain.ContactContent:
		return gupshup.OutboundMessage{Type: gupshup.TypeText, Text: ContactSummary(c)}, nil
	default:
		return gupshup.OutboundMessage{Type: gupshup.TypeText, Text: TextOf(env.Content)}, nil
	}
}

// Degraded reports whether ToWireMessage sends content as something other
// than its own variant.
func Degraded(content domain.Content) bool {
	switch content.(type) {
	case domain.TextContent, domain.ImageContent, domain.DocumentContent,
		domain.AudioContent, domain.VideoContent, domain.StickerContent,
		domain.LocationContent:
		return false
	default:
		return true
	}
}

// ContactSummary renders a contact as "Contact: <name> (<phones>)".
func ContactSummary(c domain.ContactContent) string {
	name := c.Name
	if name == "" {
		name = "unknown"
	}
	if len(c.Phones) == 0 {
		return "Contact: " + name
	}
	return fmt.Sprintf("Contact: %s (%s)", name, strings.Join(c.Phones, ", "))
}

// TextOf extracts the human-readable text of content: the body of a text
// message, a media caption, a contact summary, or a location label.
func TextOf(content domain.Content) string {
	switch c := content.(type) {
	case domain.TextContent:
		return c.Text
	case domain.ImageContent:
		return c.Caption
	case domain.DocumentContent:
		if c.Caption != "" {
			return c.Caption
		}
		return c.Filename
	case domain.VideoContent:
		return c.Caption
	case domain.ContactContent:
		return ContactSummary(c)
	case domain.LocationContent:
		return locationLabel(c)
	}
	return ""
}

func locationLabel(c domain.LocationContent) string {
	var parts []string
	if c.Name != "" {
		parts = append(parts, c.Name)
	}
	if c.Address != "" {
		parts = append(parts, c.Address)
	}
	if len(parts) == 0 && c.Latitude != nil && c.Longitude != nil {
		parts = append(parts,
			strconv.FormatFloat(*c.Latitude, 'f', -1, 64)+","+strconv.FormatFloat(*c.Longitude, 'f', -1, 64))
	}
	return strings.Join(parts, ", ")
}

// TemplateParams builds template parameters from the envelope text,
// truncated to MaxTemplateParam characters.
func TemplateParams(content domain.Content) []string {
	text := TextOf(content)
	if text == "" {
		return []string{}
	}
	return []string{truncate(text, MaxTemplateParam)}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
