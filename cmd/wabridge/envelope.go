package main

import (
	"time"

	"github.com/google/uuid"

	"wabridge/internal/domain"
)

func newTextEnvelope(phone, text, accountName string) domain.Envelope {
	env := domain.Envelope{
		ID:        uuid.NewString(),
		Channel:   domain.ChannelName,
		Direction: domain.DirectionOutbound,
		Recipient: domain.Party{ID: phone},
		Content:   domain.TextContent{Text: text},
		Timestamp: time.Now(),
	}
	if accountName != "" {
		env.Metadata = map[string]any{"accountId": accountName}
	}
	return env
}
