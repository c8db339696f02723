package gupshup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"wabridge/internal/domain"
)

const (
	DefaultAPIBase      = "https://api.gupshup.io"
	DefaultAttempts     = 3
	DefaultSendTimeout  = 30 * time.Second
	DefaultProbeTimeout = 10 * time.Second

	sendPath     = "/wa/api/v1/msg"
	templatePath = "/wa/api/v1/template/msg"
	balancePath  = "/sm/api/v2/wallet/balance"

	maxResponseBody = 1 << 20
)

// SendOptions tunes one send call. Zero values use the client defaults.
type SendOptions struct {
	Attempts int
	Timeout  time.Duration
}

// SendResponse is the provider's acknowledgement of an accepted message.
type SendResponse struct {
	MessageID string
	Status    string
}

// ClientConfig configures a Client for one account.
type ClientConfig struct {
	APIBase    string
	Account    domain.Account
	HTTPClient *http.Client
	Attempts   int
	Timeout    time.Duration
	Throttle   *Throttle // optional, shared by every send of the account
	Logger     *slog.Logger
}

// Client delivers outbound messages for one account. It never touches
// session or health state.
type Client struct {
	base     string
	account  domain.Account
	http     *http.Client
	attempts int
	timeout  time.Duration
	throttle *Throttle
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:     strings.TrimRight(cfg.APIBase, "/"),
		account:  cfg.Account,
		http:     cfg.HTTPClient,
		attempts: cfg.Attempts,
		timeout:  cfg.Timeout,
		throttle: cfg.Throttle,
		logger:   cfg.Logger.With("account", cfg.Account.Name),
		sleep:    sleepContext,
	}
}

// Account returns the account this client sends for.
func (c *Client) Account() domain.Account { return c.account }

// Send delivers a session (free-form) message to destination.
func (c *Client) Send(ctx context.Context, destination string, msg OutboundMessage, opts SendOptions) (*SendResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	form := c.baseForm(destination)
	form.Set("message", string(body))
	return c.post(ctx, sendPath, form, opts)
}

// SendTemplate delivers a pre-approved template message to destination.
func (c *Client) SendTemplate(ctx context.Context, destination string, tmpl TemplateMessage, opts SendOptions) (*SendResponse, error) {
	if tmpl.Params == nil {
		tmpl.Params = []string{}
	}
	body, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	form := c.baseForm(destination)
	form.Set("template", string(body))
	return c.post(ctx, templatePath, form, opts)
}

// Probe checks that the credential is accepted. Used by the health monitor.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+balancePath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.account.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if outcome, err := Classify(resp.StatusCode, body, nil); outcome != OutcomeSuccess {
		return err
	}
	return nil
}

func (c *Client) baseForm(destination string) url.Values {
	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", c.account.PhoneNumber)
	form.Set("destination", domain.NormalizePhone(destination))
	form.Set("src.name", c.account.AppID)
	return form
}

func (c *Client) post(ctx context.Context, path string, form url.Values, opts SendOptions) (*SendResponse, error) {
	policy := retryPolicy{
		attempts: opts.Attempts,
		backoff:  linearBackoff,
		sleep:    c.sleep,
		logger:   c.logger,
	}
	if policy.attempts <= 0 {
		policy.attempts = c.attempts
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	encoded := form.Encode()
	var result *SendResponse

	err := policy.do(ctx, func(ctx context.Context, attempt int) (Outcome, error) {
		if err := c.throttle.Wait(ctx); err != nil {
			return OutcomeFatal, fmt.Errorf("send throttle: %w", err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.base+path, strings.NewReader(encoded))
		if err != nil {
			return OutcomeFatal, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("apikey", c.account.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return Classify(0, nil, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return Classify(0, nil, err)
		}

		outcome, cerr := Classify(resp.StatusCode, body, nil)
		if outcome == OutcomeSuccess {
			result = parseSendResponse(body)
			c.logger.Debug("message accepted", "attempt", attempt, "message_id", result.MessageID)
		}
		return outcome, cerr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseSendResponse(body []byte) *SendResponse {
	resp := &SendResponse{}
	resp.MessageID, _ = jsonparser.GetString(body, "messageId")
	resp.Status, _ = jsonparser.GetString(body, "status")
	return resp
}
