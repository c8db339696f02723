// Package channel is the WhatsApp channel: it ties account selection, the
// session window, access control and template fallback together for the
// inbound and outbound flows, and exposes the provider webhook.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"time"

	"wabridge/internal/access"
	"wabridge/internal/bus"
	"wabridge/internal/domain"
	"wabridge/internal/gupshup"
	"wabridge/internal/health"
	"wabridge/internal/metrics"
	"wabridge/internal/session"
	"wabridge/internal/transform"
)

// Result error strings returned to the gateway.
const (
	ErrNoTemplates      = "Session expired. No templates configured for out-of-session messaging."
	templateFailedLabel = "Template send failed: "
)

// Sender delivers messages for one account. *gupshup.Client implements it.
type Sender interface {
	Send(ctx context.Context, destination string, msg gupshup.OutboundMessage, opts gupshup.SendOptions) (*gupshup.SendResponse, error)
	SendTemplate(ctx context.Context, destination string, tmpl gupshup.TemplateMessage, opts gupshup.SendOptions) (*gupshup.SendResponse, error)
	Probe(ctx context.Context) error
}

// StatusEvent is a normalized delivery status from a message-event webhook.
type StatusEvent struct {
	MessageID string    `json:"messageId"`
	GsID      string    `json:"gsId,omitempty"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"` // queued | sent | delivered | read | failed | unknown
	RawStatus string    `json:"rawStatus"`
	Code      int       `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserEvent is an opt-in/opt-out notification.
type UserEvent struct {
	Phone     string    `json:"phone"`
	Kind      string    `json:"kind"` // opted-in | opted-out | provider-specific
	Timestamp time.Time `json:"timestamp"`
}

// Handlers are the gateway callbacks. Any of them may be nil.
type Handlers struct {
	OnMessage      func(env domain.Envelope) bool // reports whether env was accepted
	OnAccessDenied func(phone, policy string)
	OnStatus       func(ev StatusEvent)
	OnUserEvent    func(ev UserEvent)
}

// Config configures a Channel.
type Config struct {
	Accounts       []domain.Account
	DefaultAccount string // empty selects the first account
	APIBase        string
	HTTPClient     *http.Client
	Send           gupshup.SendOptions
	AccessPolicy   string
	AllowFrom      []string
	Approvals      access.ApprovalLookup // optional pairing approvals
	SendRate       float64               // per-account sends per minute, 0 = unlimited
	SendBurst      int
	Handlers       Handlers
	Events         *bus.EventBus     // optional
	Senders        map[string]Sender // optional per-account override of the provider client
	Now            func() time.Time
	Logger         *slog.Logger
}

// Channel owns the resolved accounts, one Sender per account, and the
// session, access and health state. All methods are safe for concurrent use.
type Channel struct {
	accounts       map[string]domain.Account
	order          []string
	defaultAccount string
	senders        map[string]Sender
	sendOpts       gupshup.SendOptions

	sessions *session.Tracker
	access   *access.Controller
	health   *health.Monitor

	handlers Handlers
	events   *bus.EventBus
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a channel. It fails with a ConfigurationError when there are no
// accounts or the default account is unknown.
func New(cfg Config) (*Channel, error) {
	if len(cfg.Accounts) == 0 {
		return nil, domain.ConfigErrorf("no WhatsApp accounts configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger.With("channel", domain.ChannelName)

	c := &Channel{
		accounts: make(map[string]domain.Account, len(cfg.Accounts)),
		senders:  make(map[string]Sender, len(cfg.Accounts)),
		sendOpts: cfg.Send,
		handlers: cfg.Handlers,
		events:   cfg.Events,
		now:      cfg.Now,
		logger:   logger,
	}
	for _, a := range cfg.Accounts {
		if _, dup := c.accounts[a.Name]; dup {
			return nil, domain.ConfigErrorf("duplicate account name %q", a.Name)
		}
		c.accounts[a.Name] = a
		c.order = append(c.order, a.Name)

		if s, ok := cfg.Senders[a.Name]; ok {
			c.senders[a.Name] = s
			continue
		}
		c.senders[a.Name] = gupshup.NewClient(gupshup.ClientConfig{
			APIBase:    cfg.APIBase,
			Account:    a,
			HTTPClient: cfg.HTTPClient,
			Attempts:   cfg.Send.Attempts,
			Timeout:    cfg.Send.Timeout,
			Throttle:   gupshup.NewThrottle(cfg.SendBurst, cfg.SendRate),
			Logger:     logger,
		})
	}

	c.defaultAccount = cfg.DefaultAccount
	if c.defaultAccount == "" {
		c.defaultAccount = c.order[0]
	}
	if _, ok := c.accounts[c.defaultAccount]; !ok {
		return nil, domain.ConfigErrorf("defaultAccount %q does not match any configured account", c.defaultAccount)
	}

	c.sessions = session.NewTracker(session.TrackerConfig{
		Now:     cfg.Now,
		OnSweep: func(active int) { metrics.ActiveSessions.Set(int64(active)) },
		Logger:  logger,
	})
	c.access = access.NewController(access.ControllerConfig{
		Policy:    cfg.AccessPolicy,
		AllowFrom: cfg.AllowFrom,
		Sessions:  c.sessions,
		Approvals: cfg.Approvals,
		Logger:    logger,
	})
	c.health = health.NewMonitor(health.MonitorConfig{
		Accounts: c.order,
		Now:      cfg.Now,
		Logger:   logger,
	})

	logger.Info("channel ready",
		"accounts", len(c.order),
		"default", c.defaultAccount,
		"policy", c.access.Policy(),
	)
	return c, nil
}

func (c *Channel) Name() string { return domain.ChannelName }

// Accounts returns the accounts in configuration order.
func (c *Channel) Accounts() []domain.Account {
	out := make([]domain.Account, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.accounts[name])
	}
	return out
}

// DefaultAccount returns the account used when an envelope names none. The
// webhook is bound to it.
func (c *Channel) DefaultAccount() domain.Account {
	return c.accounts[c.defaultAccount]
}

func (c *Channel) Sessions() *session.Tracker { return c.sessions }
func (c *Channel) Access() *access.Controller { return c.access }
func (c *Channel) Monitor() *health.Monitor   { return c.health }

// ErrNotAccepted is returned by HandleInbound when OnMessage refused the
// envelope, typically because the gateway queue is full.
var ErrNotAccepted = errors.New("inbound message not accepted by the gateway")

// HandleInbound runs the inbound flow for one provider message received on
// the account whose number is appPhone (empty means the default account).
// It returns nil once the message was handed to OnMessage, a
// *domain.AccessDeniedError on policy rejection, or ErrNotAccepted.
func (c *Channel) HandleInbound(ctx context.Context, msg gupshup.InboundMessage, appPhone string) error {
	acct := c.accountByPhone(appPhone)
	from := msg.Sender.Phone
	if from == "" {
		from = msg.Source
	}
	phone := domain.NormalizePhone(from)

	if !c.access.Check(phone) {
		policy := c.access.Policy()
		c.logger.Warn("inbound message denied", "phone", phone, "policy", policy, "account", acct.Name)
		metrics.AccessDenied.Inc()
		c.emit(bus.Event{
			Type:    bus.EventAccessDenied,
			Account: acct.Name,
			Phone:   phone,
			Payload: map[string]any{"policy": policy, "messageId": msg.ID},
		})
		if c.handlers.OnAccessDenied != nil {
			c.handlers.OnAccessDenied(phone, policy)
		}
		return &domain.AccessDeniedError{Phone: phone, Policy: policy}
	}

	if !transform.KnownType(msg.Type) {
		c.logger.Warn("unsupported inbound message type", "type", msg.Type, "phone", phone)
	}
	env := transform.ToEnvelope(msg, acct.PhoneNumber)
	env.Metadata["accountId"] = acct.Name

	c.sessions.RecordInbound(phone)
	c.health.Touch(acct.Name)
	metrics.ActiveSessions.Set(int64(len(c.sessions.ListActive())))

	if c.handlers.OnMessage != nil && !c.handlers.OnMessage(env) {
		c.logger.Warn("inbound message not accepted", "phone", phone, "id", env.ID, "account", acct.Name)
		metrics.InboundRejected.Inc()
		return ErrNotAccepted
	}

	metrics.InboundTotal.Inc()
	c.logger.Info("inbound message", "phone", phone, "type", msg.Type, "id", env.ID, "account", acct.Name)
	c.emit(bus.Event{
		Type:    bus.EventMessageReceived,
		Account: acct.Name,
		Phone:   phone,
		Payload: map[string]any{"messageId": env.ID, "type": msg.Type},
	})
	return nil
}

// HandleStatus forwards a delivery status.
func (c *Channel) HandleStatus(ev StatusEvent) {
	c.logger.Debug("delivery status", "id", ev.MessageID, "status", ev.Status, "phone", ev.Phone)
	payload := map[string]any{"messageId": ev.MessageID, "status": ev.Status}
	if ev.Reason != "" {
		payload["reason"] = ev.Reason
		payload["code"] = ev.Code
	}
	c.emit(bus.Event{
		Type:      bus.EventMessageStatus,
		Account:   c.defaultAccount,
		Phone:     ev.Phone,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	})
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(ev)
	}
}

// HandleUserEvent forwards an opt-in/opt-out notification.
func (c *Channel) HandleUserEvent(ev UserEvent) {
	c.logger.Info("user event", "phone", ev.Phone, "kind", ev.Kind)
	c.emit(bus.Event{
		Type:      bus.EventUserEvent,
		Account:   c.defaultAccount,
		Phone:     ev.Phone,
		Payload:   map[string]any{"kind": ev.Kind},
		Timestamp: ev.Timestamp,
	})
	if c.handlers.OnUserEvent != nil {
		c.handlers.OnUserEvent(ev)
	}
}

// SendMessage delivers env and never returns a Go error: every failure is a
// result with Success false.
//
// Inside the session window the content is sent free-form. Outside it, or
// when the provider reports the window closed despite the local tracker, the
// first configured template carries the text instead.
func (c *Channel) SendMessage(ctx context.Context, env domain.Envelope) domain.SendResult {
	start := time.Now()
	defer metrics.SendLatency.ObserveSince(start)

	name := env.MetadataString("accountId")
	if name == "" {
		name = c.defaultAccount
	}
	acct, ok := c.accounts[name]
	sender := c.senders[name]
	if !ok || sender == nil {
		return c.fail(name, "", &domain.AccountNotFoundError{Name: name})
	}

	dest := domain.NormalizePhone(env.Recipient.ID)
	if dest == "" {
		return c.fail(name, "", &domain.ValidationError{Field: "recipient", Msg: "phone number is required"})
	}

	if !c.sessions.Status(dest).Active {
		c.logger.Debug("no active session, using template", "phone", dest, "account", name)
		return c.sendTemplate(ctx, acct, sender, env, dest)
	}

	wire, err := transform.ToWireMessage(env)
	if err != nil {
		return c.fail(name, dest, err)
	}
	if transform.Degraded(env.Content) {
		c.logger.Warn("content sent as text", "phone", dest, "content_type", contentType(env.Content))
	}

	resp, err := sender.Send(ctx, dest, wire, c.sendOpts)
	if err != nil {
		var expired *domain.SessionExpiredError
		if errors.As(err, &expired) {
			c.logger.Info("provider reports session closed, using template", "phone", dest, "account", name)
			return c.sendTemplate(ctx, acct, sender, env, dest)
		}
		c.health.MarkUnhealthy(name, err)
		return c.fail(name, dest, err)
	}

	c.health.MarkHealthy(name)
	return c.succeed(name, dest, resp.MessageID, false)
}

func (c *Channel) sendTemplate(ctx context.Context, acct domain.Account, sender Sender, env domain.Envelope, dest string) domain.SendResult {
	tmplName, tmpl, ok := firstTemplate(acct.Templates)
	if !ok {
		return c.failMsg(acct.Name, dest, ErrNoTemplates)
	}

	params := fitParams(transform.TemplateParams(env.Content), tmpl.ParamCount)
	resp, err := sender.SendTemplate(ctx, dest, gupshup.TemplateMessage{ID: tmpl.ID, Params: params}, c.sendOpts)
	if err != nil {
		c.health.MarkUnhealthy(acct.Name, err)
		return c.failMsg(acct.Name, dest, templateFailedLabel+err.Error())
	}

	c.logger.Info("template message sent", "phone", dest, "template", tmplName, "account", acct.Name)
	metrics.TemplateFallbacks(acct.Name).Inc()
	c.health.MarkHealthy(acct.Name)
	return c.succeed(acct.Name, dest, resp.MessageID, true)
}

// firstTemplate picks the first template by name. Map order is random, so
// "first" is defined alphabetically.
func firstTemplate(templates map[string]domain.Template) (string, domain.Template, bool) {
	if len(templates) == 0 {
		return "", domain.Template{}, false
	}
	names := make([]string, 0, len(templates))
	for n := range templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names[0], templates[names[0]], true
}

// fitParams pads or trims params to count. A zero count leaves params as built.
func fitParams(params []string, count int) []string {
	if count <= 0 || len(params) == count {
		return params
	}
	if len(params) > count {
		return params[:count]
	}
	out := slices.Clone(params)
	for len(out) < count {
		out = append(out, "")
	}
	return out
}

func (c *Channel) succeed(account, dest, messageID string, template bool) domain.SendResult {
	metrics.OutboundTotal(account).Inc()
	c.emit(bus.Event{
		Type:    bus.EventMessageSent,
		Account: account,
		Phone:   dest,
		Payload: map[string]any{"messageId": messageID, "template": template},
	})
	return domain.SendResult{Success: true, MessageID: messageID}
}

func (c *Channel) fail(account, dest string, err error) domain.SendResult {
	return c.failMsg(account, dest, err.Error())
}

func (c *Channel) failMsg(account, dest, msg string) domain.SendResult {
	c.logger.Warn("send failed", "account", account, "phone", dest, "err", msg)
	label := account
	if _, ok := c.accounts[account]; !ok {
		label = metrics.UnknownAccount
	}
	metrics.SendFailures(label).Inc()
	c.emit(bus.Event{
		Type:    bus.EventMessageFailed,
		Account: account,
		Phone:   dest,
		Payload: map[string]any{"error": msg},
	})
	return domain.SendResult{Success: false, Error: msg}
}

func (c *Channel) emit(e bus.Event) {
	if c.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	c.events.Emit(e)
}

// accountByPhone finds the account owning phone, falling back to the default.
func (c *Channel) accountByPhone(phone string) domain.Account {
	if key := domain.NormalizePhone(phone); key != "" {
		for _, name := range c.order {
			if c.accounts[name].PhoneNumber == key {
				return c.accounts[name]
			}
		}
	}
	return c.accounts[c.defaultAccount]
}

// Probe checks one account's credential. It matches health.ProbeFunc.
func (c *Channel) Probe(ctx context.Context, account string) error {
	s, ok := c.senders[account]
	if !ok {
		return &domain.AccountNotFoundError{Name: account}
	}
	if err := s.Probe(ctx); err != nil {
		return fmt.Errorf("probe %s: %w", account, err)
	}
	return nil
}

func contentType(content domain.Content) string {
	if content == nil {
		return "none"
	}
	return string(content.Type())
}
