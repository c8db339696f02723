// Package gateway connects the channel to the messaging gateway: an HTTP send
// API for outbound envelopes, a forwarder for inbound ones, and the server
// that hosts them next to the provider webhook.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wabridge/internal/domain"
)

const apiMaxBodySize = 1 << 20 // 1MB

// MessageSender is the outbound half of the channel.
type MessageSender interface {
	SendMessage(ctx context.Context, env domain.Envelope) domain.SendResult
}

// SendAPIConfig configures the send endpoint.
type SendAPIConfig struct {
	Sender  MessageSender
	APIKey  string        // bearer token; empty disables auth
	Timeout time.Duration // upper bound on one send, 0 = request context only
	Logger  *slog.Logger
}

// SendAPI accepts outbound envelopes as JSON and answers with the send result.
type SendAPI struct {
	sender  MessageSender
	apiKey  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewSendAPI(cfg SendAPIConfig) *SendAPI {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SendAPI{
		sender:  cfg.Sender,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "send_api"),
	}
}

// ServeHTTP handles POST <sendPath>. A delivered or failed send is 200 with the
// result body; only malformed requests get an error status.
func (a *SendAPI) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !authorized(r, a.apiKey) {
		writeError(rw, http.StatusUnauthorized, "invalid API key")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, apiMaxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "bad request")
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if env.Content == nil {
		writeError(rw, http.StatusBadRequest, "content is required")
		return
	}
	if env.Channel == "" {
		env.Channel = domain.ChannelName
	}
	if env.Direction == "" {
		env.Direction = domain.DirectionOutbound
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	res := a.sender.SendMessage(ctx, env)
	a.logger.Debug("send request handled", "id", env.ID, "recipient", env.Recipient.ID, "success", res.Success)
	json.NewEncoder(rw).Encode(res)
}

func authorized(r *http.Request, apiKey string) bool {
	if apiKey == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
