package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrNotConfigured marks a provider whose credential or required fields
	// are missing. Such providers are skipped, not counted as failures.
	ErrNotConfigured = errors.New("not configured")
	// ErrUnknownProvider is recorded for order entries with no registered factory.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrEmptyPrompt is returned when GenerateContent receives a blank prompt.
	ErrEmptyPrompt = errors.New("ai: empty prompt")
	// ErrNotStructured is returned by Result.Decode for plain-text results.
	ErrNotStructured = errors.New("ai: result is plain text")
)

const maxErrorBody = 512

// HTTPError is a non-2xx answer from a provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, body)
}

// ResponseError is a 2xx answer whose body does not carry usable text.
type ResponseError struct {
	Reason string
}

func (e *ResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// NetworkError covers timeouts, DNS failures and broken connections.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Attempt is one entry of the per-call attempt log.
type Attempt struct {
	Provider string
	Err      error
}

// Skipped reports whether the provider was passed over for missing settings.
func (a Attempt) Skipped() bool {
	return errors.Is(a.Err, ErrNotConfigured)
}

// AllProvidersFailedError is returned in strict mode when no provider in the
// chain produced a reply.
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "ai: all providers failed: no providers in order"
	}
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, a.Provider+": "+a.Err.Error())
	}
	return "ai: all providers failed: " + strings.Join(reasons, "; ")
}

// Unwrap exposes every per-provider error to errors.Is and errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

func notConfigured(field string) error {
	return fmt.Errorf("%w: missing %s", ErrNotConfigured, field)
}
