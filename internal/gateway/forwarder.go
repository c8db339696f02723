package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const defaultForwardTimeout = 10 * time.Second

// ForwarderConfig configures delivery of inbound envelopes to the gateway.
type ForwarderConfig struct {
	URL        string // empty: envelopes are logged and dropped
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Forwarder POSTs each inbound envelope to the gateway as JSON.
type Forwarder struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultForwardTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Forwarder{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger.With("component", "forwarder"),
	}
}

// Run forwards envelopes from in until it is closed or ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context, in <-chan domain.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if err := f.Forward(ctx, env); err != nil {
				f.logger.Error("forward failed", "id", env.ID, "sender", env.Sender.ID, "err", err)
			}
		}
	}
}

// Forward delivers one envelope. Any non-2xx answer is an error.
func (f *Forwarder) Forward(ctx context.Context, env domain.Envelope) error {
	if f.url == "" {
		f.logger.Info("inbound message (no gateway configured)",
			"id", env.ID, "sender", env.Sender.ID, "type", contentType(env.Content))
		return nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		metrics.ForwardFailures.Inc()
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		metrics.ForwardFailures.Inc()
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		metrics.ForwardFailures.Inc()
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ForwardFailures.Inc()
		return fmt.Errorf("gateway answered HTTP %d", resp.StatusCode)
	}
	metrics.ForwardedTotal.Inc()
	return nil
}

func contentType(c domain.Content) string {
	if c == nil {
		return "none"
	}
	return string(c.Type())
}
