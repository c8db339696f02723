package gupshup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"wabridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		netErr  error
		outcome Outcome
	}{
		{"accepted", 202, `{"status":"submitted","messageId":"m1"}`, nil, OutcomeSuccess},
		{"ok", 200, `{"status":"success"}`, nil, OutcomeSuccess},
		{"network", 0, "", errors.New("connection refused"), OutcomeRetry},
		{"rate limited", 429, `{"status":"error","message":"Too many requests"}`, nil, OutcomeRetry},
		{"server error", 500, "", nil, OutcomeRetry},
		{"bad gateway html", 502, "<html>bad gateway</html>", nil, OutcomeRetry},
		{"unauthorized", 401, `{"status":"error","message":"Authentication Failed"}`, nil, OutcomeFatal},
		{"forbidden", 403, "", nil, OutcomeFatal},
		{"session status", 470, `{"status":"error","message":"outside window"}`, nil, OutcomeFallback},
		{"session code in body", 400, `{"status":"error","message":{"code":470,"text":"re-engagement required"}}`, nil, OutcomeFallback},
		{"session code string", 200, `{"status":"error","code":"470","message":"expired"}`, nil, OutcomeFallback},
		{"bad request", 400, `{"status":"error","message":"Invalid destination"}`, nil, OutcomeFatal},
		{"error in 2xx", 200, `{"status":"error","message":"Template not found"}`, nil, OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.status, []byte(tt.body), tt.netErr)
			if got != tt.outcome {
				t.Fatalf("outcome = %v, want %v (err %v)", got, tt.outcome, err)
			}
			if got == OutcomeSuccess && err != nil {
				t.Fatalf("success with error: %v", err)
			}
			if got != OutcomeSuccess && err == nil {
				t.Fatal("non-success outcome without error")
			}
		})
	}
}

func TestClassify_ErrorTypes(t *testing.T) {
	_, err := Classify(401, nil, nil)
	var authErr *domain.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Errorf("401: expected AuthenticationError, got %T", err)
	}

	_, err = Classify(470, nil, nil)
	var sessErr *domain.SessionExpiredError
	if !errors.As(err, &sessErr) {
		t.Errorf("470: expected SessionExpiredError, got %T", err)
	}

	_, err = Classify(400, []byte(`{"status":"error","message":{"code":1002,"text":"Number does not exist"}}`), nil)
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("400: expected APIError, got %T", err)
	}
	if apiErr.Code != "1002" || apiErr.Message != "Number does not exist" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func recordingPolicy(attempts int, slept *[]time.Duration) retryPolicy {
	return retryPolicy{
		attempts: attempts,
		backoff:  linearBackoff,
		sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
		logger: testLogger(),
	}
}

func TestRetryPolicy_LinearBackoff(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := recordingPolicy(3, &slept).do(context.Background(), func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return OutcomeRetry, errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Errorf("backoff = %v, want %v", slept, want)
	}
}

func TestRetryPolicy_ReturnsLastError(t *testing.T) {
	var slept []time.Duration
	err := recordingPolicy(2, &slept).do(context.Background(), func(ctx context.Context, attempt int) (Outcome, error) {
		if attempt == 1 {
			return OutcomeRetry, errors.New("first")
		}
		return OutcomeRetry, errors.New("second")
	})
	if err == nil || err.Error() != "second" {
		t.Fatalf("expected second error, got %v", err)
	}
}

func TestRetryPolicy_StopsOnFatal(t *testing.T) {
	var slept []time.Duration
	calls := 0
	fatal := errors.New("fatal")
	err := recordingPolicy(3, &slept).do(context.Background(), func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return OutcomeFatal, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 || len(slept) != 0 {
		t.Errorf("calls = %d, sleeps = %d", calls, len(slept))
	}
}

func TestRetryPolicy_SucceedsAfterRetry(t *testing.T) {
	var slept []time.Duration
	err := recordingPolicy(3, &slept).do(context.Background(), func(ctx context.Context, attempt int) (Outcome, error) {
		if attempt < 2 {
			return OutcomeRetry, errors.New("transient")
		}
		return OutcomeSuccess, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 {
		t.Errorf("sleeps = %d, want 1", len(slept))
	}
}

func TestRetryPolicy_NoAttempts(t *testing.T) {
	var slept []time.Duration
	err := recordingPolicy(0, &slept).do(context.Background(), func(ctx context.Context, attempt int) (Outcome, error) {
		t.Fatal("fn must not run")
		return OutcomeSuccess, nil
	})
	if !errors.Is(err, errNoAttempt) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := retryPolicy{attempts: 3, backoff: linearBackoff, sleep: sleepContext, logger: testLogger()}
	calls := 0
	err := p.do(ctx, func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return OutcomeRetry, errors.New("transient")
	})
	if err == nil || err.Error() != "transient" {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
