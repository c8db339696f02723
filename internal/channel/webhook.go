package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"wabridge/internal/domain"
	"wabridge/internal/gupshup"
	"wabridge/internal/metrics"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Gupshup-Signature"

	webhookMaxBodySize = 1 << 20 // 1MB
	defaultDedupeTTL   = 15 * time.Minute
)

// WebhookResponse is the acknowledgement returned to the provider.
type WebhookResponse struct {
	Status int
	Body   string
}

// RouterConfig configures the webhook router.
type RouterConfig struct {
	Channel   *Channel
	Secret    string        // defaults to the default account's webhook secret
	DedupeTTL time.Duration // how long a provider message id is remembered
	Logger    *slog.Logger
}

// Router validates provider webhooks and dispatches them to the channel.
// Apart from unparseable JSON (400) and a bad signature (401) it always
// answers 200, because the provider re-sends anything else.
type Router struct {
	channel *Channel
	secret  string
	seen    *cache.Cache
	logger  *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	secret := cfg.Secret
	if secret == "" && cfg.Channel != nil {
		secret = cfg.Channel.DefaultAccount().WebhookSecret
	}
	return &Router{
		channel: cfg.Channel,
		secret:  secret,
		seen:    cache.New(cfg.DedupeTTL, 2*cfg.DedupeTTL),
		logger:  cfg.Logger.With("component", "webhook"),
	}
}

type ackBody struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handle processes one webhook body. signature may be empty.
func (r *Router) Handle(ctx context.Context, body []byte, signature string) WebhookResponse {
	var hook gupshup.Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		r.logger.Warn("webhook body is not JSON", "err", err)
		return respond(http.StatusBadRequest, errorBody{Error: "invalid JSON"})
	}

	if r.secret != "" && signature != "" {
		if !VerifySignature(body, r.secret, signature) {
			err := &domain.WebhookValidationError{Msg: "signature mismatch"}
			r.logger.Warn("webhook rejected", "err", err)
			return respond(http.StatusUnauthorized, errorBody{Error: "invalid signature"})
		}
	}

	if warning := r.dispatch(ctx, hook); warning != "" {
		r.logger.Warn("webhook processed with warning", "type", hook.Type, "warning", warning)
		return respond(http.StatusOK, ackBody{Status: "ok", Warning: warning})
	}
	return respond(http.StatusOK, ackBody{Status: "ok"})
}

// dispatch routes by type and returns a warning instead of failing.
func (r *Router) dispatch(ctx context.Context, hook gupshup.Webhook) (warning string) {
	defer func() {
		if p := recover(); p != nil {
			warning = fmt.Sprintf("handler panic: %v", p)
		}
	}()

	switch hook.Type {
	case gupshup.EventMessage:
		var msg gupshup.InboundMessage
		if err := json.Unmarshal(hook.Payload, &msg); err != nil {
			return "malformed message payload: " + err.Error()
		}
		if msg.ID != "" {
			if err := r.seen.Add(msg.ID, struct{}{}, cache.DefaultExpiration); err != nil {
				r.logger.Debug("duplicate webhook ignored", "id", msg.ID)
				metrics.DuplicateWebhooks.Inc()
				return ""
			}
		}
		msg.Timestamp = hook.Timestamp
		// The webhook is bound to the default account.
		if err := r.channel.HandleInbound(ctx, msg, ""); errors.Is(err, ErrNotAccepted) {
			// Forget the id so a redelivery is processed again.
			r.seen.Delete(msg.ID)
			return err.Error()
		}

	case gupshup.EventMessageEvent:
		var ev gupshup.MessageEvent
		if err := json.Unmarshal(hook.Payload, &ev); err != nil {
			return "malformed message-event payload: " + err.Error()
		}
		r.channel.HandleStatus(statusEvent(ev, hook.Timestamp))

	case gupshup.EventUserEvent:
		var ev gupshup.UserEvent
		if err := json.Unmarshal(hook.Payload, &ev); err != nil {
			return "malformed user-event payload: " + err.Error()
		}
		r.channel.HandleUserEvent(UserEvent{
			Phone:     domain.NormalizePhone(ev.Phone),
			Kind:      userEventKind(ev.Type),
			Timestamp: timestamp(hook.Timestamp),
		})

	default:
		return fmt.Sprintf("unsupported webhook type %q", hook.Type)
	}
	return ""
}

func statusEvent(ev gupshup.MessageEvent, ts int64) StatusEvent {
	out := StatusEvent{
		MessageID: ev.ID,
		GsID:      ev.GsID,
		Phone:     domain.NormalizePhone(ev.Destination),
		Status:    NormalizeStatus(ev.Type),
		RawStatus: ev.Type,
		Timestamp: timestamp(ts),
	}
	if out.Status == "failed" && len(ev.Payload) > 0 {
		var detail gupshup.MessageEventDetail
		if json.Unmarshal(ev.Payload, &detail) == nil {
			out.Code = detail.Code
			out.Reason = detail.Reason
		}
	}
	return out
}

// NormalizeStatus maps provider delivery states onto the gateway's set.
func NormalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "enqueued", "queued":
		return "queued"
	case "sent":
		return "sent"
	case "delivered":
		return "delivered"
	case "read":
		return "read"
	case "failed":
		return "failed"
	}
	return "unknown"
}

func userEventKind(t string) string {
	switch strings.ToLower(t) {
	case "opted-in", "opt-in", "optin":
		return "opted-in"
	case "opted-out", "opt-out", "optout":
		return "opted-out"
	}
	return strings.ToLower(t)
}

func timestamp(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// VerifySignature checks a hex HMAC-SHA256 of body. A "sha256=" prefix is
// accepted. Signatures of the wrong length are rejected before comparing.
func VerifySignature(body []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expected := Sign(body, secret)

	if len(signature) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// Sign returns the hex signature VerifySignature accepts.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func respond(status int, v any) WebhookResponse {
	b, _ := json.Marshal(v)
	return WebhookResponse{Status: status, Body: string(b)}
}

// ServeHTTP adapts Handle to net/http.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, webhookMaxBodySize))
	defer req.Body.Close()
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	resp := r.Handle(req.Context(), body, req.Header.Get(SignatureHeader))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	io.WriteString(w, resp.Body)
}
