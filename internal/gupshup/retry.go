package gupshup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/buger/jsonparser"

	"wabridge/internal/domain"
)

// Outcome is the classifier's verdict for one attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomeFatal
	OutcomeFallback // session window closed: caller should send a template
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	case OutcomeFallback:
		return "fallback"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// StatusSessionExpired is the provider's non-standard "outside the 24h window" status.
const StatusSessionExpired = 470

// Classify maps one HTTP exchange to an outcome and, when it is not a
// success, the error that describes it. transportErr is a network-level
// failure (no response). Pure: no I/O.
func Classify(status int, body []byte, transportErr error) (Outcome, error) {
	if transportErr != nil {
		return OutcomeRetry, fmt.Errorf("network: %w", transportErr)
	}

	code, message := providerError(body)

	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeRetry, &domain.APIError{Status: status, Code: code, Message: orStatus(message, status)}
	case status >= 500:
		return OutcomeRetry, &domain.APIError{Status: status, Code: code, Message: orStatus(message, status)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeFatal, &domain.AuthenticationError{Status: status, Message: orStatus(message, status)}
	case status == StatusSessionExpired || code == "470":
		return OutcomeFallback, &domain.SessionExpiredError{Message: message}
	case status < 200 || status >= 300:
		return OutcomeFatal, &domain.APIError{Status: status, Code: code, Message: orStatus(message, status)}
	}

	// 2xx can still carry {"status":"error"}.
	if st, _ := jsonparser.GetString(body, "status"); st == "error" {
		return OutcomeFatal, &domain.APIError{Status: status, Code: code, Message: orStatus(message, status)}
	}
	return OutcomeSuccess, nil
}

// providerError extracts an embedded error code and message. The provider
// uses both {"message": "..."} and {"message": {"code": ..., "text": ...}}.
func providerError(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	if v, _, _, err := jsonparser.Get(body, "code"); err == nil {
		code = string(v)
	}
	if m, err := jsonparser.GetString(body, "message"); err == nil {
		message = m
	}
	if v, _, _, err := jsonparser.Get(body, "message", "code"); err == nil {
		code = string(v)
	}
	if m, err := jsonparser.GetString(body, "message", "text"); err == nil {
		message = m
	}
	if message == "" && code == "" {
		if m, err := jsonparser.GetString(body, "error"); err == nil {
			message = m
		}
	}
	return code, message
}

func orStatus(message string, status int) string {
	if message != "" {
		return message
	}
	return http.StatusText(status)
}

// retryPolicy drives attempts of fn until the classifier says stop.
type retryPolicy struct {
	attempts int
	backoff  func(attempt int) time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// linearBackoff waits attempt × 1s after the given (1-based) attempt.
func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errNoAttempt = errors.New("send failed without a recorded error")

// do runs fn up to p.attempts times. fn returns the classifier verdict for
// its attempt. Retry outcomes sleep and try again; anything else returns.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context, attempt int) (Outcome, error)) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		outcome, err := fn(ctx, attempt)
		switch outcome {
		case OutcomeSuccess:
			return nil
		case OutcomeRetry:
			lastErr = err
		default:
			return err
		}

		if attempt == p.attempts {
			break
		}
		wait := p.backoff(attempt)
		p.logger.Warn("send failed, will retry", "attempt", attempt, "backoff", wait, "err", err)
		if serr := p.sleep(ctx, wait); serr != nil {
			if lastErr != nil {
				return lastErr
			}
			return serr
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return errNoAttempt
}
