package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wabridge/internal/bus"
	"wabridge/internal/domain"
)

func newTestRouter(t *testing.T, secret string, mutate func(*Config)) (*Router, *fixture) {
	t.Helper()
	f := newFixture(t, mutate)
	return NewRouter(RouterConfig{Channel: f.ch, Secret: secret, Logger: testLogger()}), f
}

const inboundHook = `{
	"app": "MainApp",
	"timestamp": 1772366400000,
	"version": 2,
	"type": "message",
	"payload": {
		"id": "ABEGkYaYVSEEAhAL3SLAWwHKeKrt6s3FKB0c",
		"source": "15551234567",
		"type": "text",
		"payload": {"text": "Hi there"},
		"sender": {"phone": "15551234567", "name": "Ana", "country_code": "1", "dial_code": "5551234567"}
	}
}`

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"message"}`)
	sig := Sign(body, "s3cret")

	if !VerifySignature(body, "s3cret", sig) {
		t.Error("valid signature should verify")
	}
	if !VerifySignature(body, "s3cret", "sha256="+sig) {
		t.Error("sha256= prefix should be accepted")
	}
	if !VerifySignature(body, "s3cret", strings.ToUpper(sig)) {
		t.Error("hex case should not matter")
	}
	if VerifySignature(body, "other", sig) {
		t.Error("wrong secret should not verify")
	}
	if VerifySignature(body, "s3cret", "abc") {
		t.Error("short signature should not verify")
	}
	if VerifySignature(body, "s3cret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestRouter_InboundMessage(t *testing.T) {
	var got []domain.Envelope
	r, f := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnMessage = func(env domain.Envelope) bool {
			got = append(got, env)
			return true
		}
	})

	resp := r.Handle(context.Background(), []byte(inboundHook), "")
	if resp.Status != http.StatusOK || resp.Body != `{"status":"ok"}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(got))
	}
	if got[0].ID != "ABEGkYaYVSEEAhAL3SLAWwHKeKrt6s3FKB0c" {
		t.Errorf("id: %q", got[0].ID)
	}
	if got[0].Timestamp.UnixMilli() != 1772366400000 {
		t.Errorf("timestamp: %v", got[0].Timestamp)
	}
	if !f.ch.Sessions().Status("15551234567").Active {
		t.Error("inbound webhook should open the session")
	}
}

func TestRouter_DuplicateMessageIgnored(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnMessage = func(domain.Envelope) bool {
			calls++
			return true
		}
	})

	for i := 0; i < 3; i++ {
		if resp := r.Handle(context.Background(), []byte(inboundHook), ""); resp.Status != http.StatusOK {
			t.Fatalf("attempt %d: status %d", i, resp.Status)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 delivery, got %d", calls)
	}
}

func hookWithID(id string) []byte {
	return []byte(strings.Replace(inboundHook, "ABEGkYaYVSEEAhAL3SLAWwHKeKrt6s3FKB0c", id, 1))
}

func TestRouter_QueueFullAllowsRedelivery(t *testing.T) {
	queue := bus.NewQueue(1, 0, testLogger())
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnMessage = queue.Publish
	})
	ctx := context.Background()

	if resp := r.Handle(ctx, hookWithID("MSG-A"), ""); resp.Body != `{"status":"ok"}` {
		t.Fatalf("first webhook: %+v", resp)
	}

	start := time.Now()
	resp := r.Handle(ctx, hookWithID("MSG-B"), "")
	if d := time.Since(start); d > time.Second {
		t.Errorf("ack took %v with a full queue", d)
	}
	if resp.Status != http.StatusOK || !strings.Contains(resp.Body, "not accepted") {
		t.Errorf("expected 200 with a warning, got %+v", resp)
	}

	if env := <-queue.Subscribe(); env.ID != "MSG-A" {
		t.Fatalf("drained %q", env.ID)
	}

	resp = r.Handle(ctx, hookWithID("MSG-B"), "")
	if resp.Body != `{"status":"ok"}` {
		t.Fatalf("redelivery: %+v", resp)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected redelivery to be queued, len=%d", queue.Len())
	}
	if env := <-queue.Subscribe(); env.ID != "MSG-B" {
		t.Errorf("queued %q", env.ID)
	}

	// Accepted now, so a further copy is a duplicate.
	r.Handle(ctx, hookWithID("MSG-B"), "")
	if queue.Len() != 0 {
		t.Error("accepted message should be deduplicated")
	}
}

func TestRouter_DeliveredStatus(t *testing.T) {
	var got []StatusEvent
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnStatus = func(ev StatusEvent) { got = append(got, ev) }
	})

	body := `{"type":"message-event","payload":{"id":"m1","type":"delivered","destination":"15551234567"}}`
	resp := r.Handle(context.Background(), []byte(body), "")
	if resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 status event, got %d", len(got))
	}
	if got[0].MessageID != "m1" || got[0].Status != "delivered" || got[0].Phone != "15551234567" {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestRouter_FailedStatusDetail(t *testing.T) {
	var got StatusEvent
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnStatus = func(ev StatusEvent) { got = ev }
	})

	body := `{"type":"message-event","payload":{"id":"m2","type":"failed","destination":"15551234567",` +
		`"payload":{"code":1002,"reason":"Number does not exist on WhatsApp"}}}`
	r.Handle(context.Background(), []byte(body), "")
	if got.Status != "failed" || got.Code != 1002 || got.Reason != "Number does not exist on WhatsApp" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestRouter_UserEvent(t *testing.T) {
	var got UserEvent
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnUserEvent = func(ev UserEvent) { got = ev }
	})

	body := `{"type":"user-event","timestamp":1772366400000,"payload":{"phone":"+1 555 123 4567","type":"opted-out"}}`
	if resp := r.Handle(context.Background(), []byte(body), ""); resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
	if got.Phone != "15551234567" || got.Kind != "opted-out" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestRouter_InvalidJSON(t *testing.T) {
	r, _ := newTestRouter(t, "", nil)
	resp := r.Handle(context.Background(), []byte("not json"), "")
	if resp.Status != http.StatusBadRequest || resp.Body != `{"error":"invalid JSON"}` {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRouter_Signature(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, "hook-secret", func(c *Config) {
		c.Handlers.OnMessage = func(domain.Envelope) bool {
			calls++
			return true
		}
	})
	body := []byte(inboundHook)

	resp := r.Handle(context.Background(), body, Sign(body, "wrong"))
	if resp.Status != http.StatusUnauthorized || resp.Body != `{"error":"invalid signature"}` {
		t.Errorf("unexpected response: %+v", resp)
	}
	if calls != 0 {
		t.Error("rejected webhook must not be dispatched")
	}

	resp = r.Handle(context.Background(), body, Sign(body, "hook-secret"))
	if resp.Status != http.StatusOK || calls != 1 {
		t.Errorf("valid signature: status %d, calls %d", resp.Status, calls)
	}
}

func TestRouter_SignatureOptional(t *testing.T) {
	r, _ := newTestRouter(t, "hook-secret", nil)
	if resp := r.Handle(context.Background(), []byte(inboundHook), ""); resp.Status != http.StatusOK {
		t.Errorf("missing signature should be accepted, got %d", resp.Status)
	}
}

func TestRouter_SecretFromDefaultAccount(t *testing.T) {
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Accounts[0].WebhookSecret = "acct-secret"
	})
	body := []byte(inboundHook)
	if resp := r.Handle(context.Background(), body, Sign(body, "other")); resp.Status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.Status)
	}
}

func TestRouter_UnknownTypeWarns(t *testing.T) {
	r, _ := newTestRouter(t, "", nil)
	resp := r.Handle(context.Background(), []byte(`{"type":"billing-event","payload":{}}`), "")
	if resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
	var ack struct {
		Status  string `json:"status"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != "ok" || !strings.Contains(ack.Warning, "billing-event") {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestRouter_HandlerPanicStill200(t *testing.T) {
	r, _ := newTestRouter(t, "", func(c *Config) {
		c.Handlers.OnMessage = func(domain.Envelope) bool { panic("boom") }
	})
	resp := r.Handle(context.Background(), []byte(inboundHook), "")
	if resp.Status != http.StatusOK || !strings.Contains(resp.Body, "boom") {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRouter_DeniedStill200(t *testing.T) {
	r, f := newTestRouter(t, "", func(c *Config) {
		c.AccessPolicy = "allowlist"
	})
	if resp := r.Handle(context.Background(), []byte(inboundHook), ""); resp.Status != http.StatusOK {
		t.Errorf("denied message should still be acknowledged, got %d", resp.Status)
	}
	if f.ch.Sessions().Len() != 0 {
		t.Error("denied message must not create a session")
	}
}

func TestRouter_ServeHTTP(t *testing.T) {
	r, _ := newTestRouter(t, "hook-secret", nil)
	body := []byte(inboundHook)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign(body, "hook-secret"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"enqueued":  "queued",
		"sent":      "sent",
		"DELIVERED": "delivered",
		"read":      "read",
		"failed":    "failed",
		"deleted":   "unknown",
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChannel_HealthHandler(t *testing.T) {
	f := newFixture(t, nil)
	f.ch.Monitor().MarkHealthy("main")

	rec := httptest.NewRecorder()
	f.ch.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp/health", nil))

	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Healthy || report.Channel != "whatsapp" || len(report.Accounts) != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !report.Accounts[0].Connected || report.Accounts[1].Connected {
		t.Errorf("unexpected account states: %+v", report.Accounts)
	}
}
