package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/llm-verdict/internal/llm"
)

// Kind classifies a provider failure for retry purposes.
type Kind int

const (
	// KindTransient failures are retried with backoff.
	KindTransient Kind = iota
	// KindRateLimited failures come from a "too many requests" signal and are retried with backoff.
	KindRateLimited
	// KindFatal failures are surfaced immediately.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether the client should try again.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Error is returned by Client.Complete and by the grader.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a provider Error of kind k.
func IsKind(err error, k Kind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == k
}

// Classify wraps a backend failure into an Error. A 429 is RateLimited,
// client-side and validation statuses are Fatal, anything else is Transient.
func Classify(providerID string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindTransient
	if code, ok := llm.StatusCode(err); ok {
		kind = kindForStatus(code)
	}
	return &Error{Kind: kind, Provider: providerID, Err: err}
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusConflict:
		return KindTransient
	case code >= 400 && code < 500:
		return KindFatal
	default:
		return KindTransient
	}
}
