package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/xuanyiying/ai-ace-job-sub001/retry"
)

// Kind is the normalized failure category used for propagation decisions.
type Kind string

const (
	// KindTransport covers connection-level failures: dial errors,
	// timeouts, dropped connections.
	KindTransport Kind = "transport"
	// KindProvider covers failures reported by the upstream backend.
	KindProvider Kind = "provider"
	// KindRetryExhausted marks an error after all retry attempts failed.
	KindRetryExhausted Kind = "retry_exhausted"
	// KindStreamAborted marks a user-initiated cancel. It is terminal but
	// not an error condition and must not trigger error UI.
	KindStreamAborted Kind = "stream_aborted"
)

// Error is the normalized error returned by the gateway.
type Error struct {
	Provider  string
	Model     string
	Kind      Kind
	Message   string
	Retryable bool
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", e.Kind, e.Provider, e.Model, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// apiError carries the HTTP status and backend error details so Normalize
// can classify the failure.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend error [%d]: %s (type: %s)", e.Status, e.Message, e.Type)
	}
	return fmt.Sprintf("backend error [%d]: %s", e.Status, e.Message)
}

// retryableStatus reports whether an HTTP status class is worth retrying:
// timeouts, rate limits and server errors only, never auth or validation.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// Normalize maps a backend-specific failure to the shared taxonomy. Errors
// that are already normalized pass through unchanged.
func Normalize(err error, providerName, model string) *Error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		inner := Normalize(exhausted.Err, providerName, model)
		return &Error{
			Provider:  providerName,
			Model:     model,
			Kind:      KindRetryExhausted,
			Message:   fmt.Sprintf("all %d attempts failed: %s", exhausted.Attempts, inner.Message),
			Retryable: false,
			Status:    inner.Status,
			Err:       err,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{
			Provider: providerName,
			Model:    model,
			Kind:     KindStreamAborted,
			Message:  "cancelled",
			Err:      err,
		}
	}

	var aerr *apiError
	if errors.As(err, &aerr) {
		return &Error{
			Provider:  providerName,
			Model:     model,
			Kind:      KindProvider,
			Message:   aerr.Message,
			Retryable: retryableStatus(aerr.Status),
			Status:    aerr.Status,
			Err:       err,
		}
	}

	// Deadline, dial and URL errors are transport-level and recoverable.
	var nerr net.Error
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &nerr) || errors.As(err, &uerr) {
		return &Error{
			Provider:  providerName,
			Model:     model,
			Kind:      KindTransport,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	return &Error{
		Provider: providerName,
		Model:    model,
		Kind:     KindProvider,
		Message:  err.Error(),
		Err:      err,
	}
}

// IsRetryable reports whether the error should be retried for one-shot
// calls. Streaming requests are never retried regardless of this.
func IsRetryable(err error) bool {
	e := Normalize(err, "", "")
	return e != nil && e.Retryable
}

// IsAborted reports whether the error represents a user cancel.
func IsAborted(err error) bool {
	e := Normalize(err, "", "")
	return e != nil && e.Kind == KindStreamAborted
}
