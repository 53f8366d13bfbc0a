package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindInvalidRequest        ErrorKind = "invalid-request"
	KindRateLimited           ErrorKind = "rate-limited"
	KindQuotaExceeded         ErrorKind = "quota-exceeded"
	KindModelNotFound         ErrorKind = "model-not-found"
	KindAuthFailed            ErrorKind = "auth-failed"
	KindNetwork               ErrorKind = "network"
	KindInvalidResponse       ErrorKind = "invalid-response"
	KindTimeout               ErrorKind = "timeout"
	KindUnsupportedCapability ErrorKind = "unsupported-capability"
	KindUnknown               ErrorKind = "unknown"
)

// Error is a classified provider failure. It wraps the underlying cause so
// errors.Is / errors.As continue to work through it.
type Error struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Provider names the backend that produced the failure (e.g., "anyllm").
	Provider string

	// Message is an optional human-readable description used when there is no
	// wrapped cause.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		sb.WriteString(e.Provider)
		sb.WriteString(": ")
	}
	sb.WriteString(string(e.Kind))
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	} else if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or [KindUnknown] when err carries
// no [*Error] in its chain. A nil err yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Classify wraps err in an [*Error], inferring the kind from well-known
// context errors and from status-code and keyword patterns in the error text.
// Failures that match nothing are wrapped as [KindUnknown].
//
// Classification by message text is inherently approximate; adapters that can
// inspect typed SDK errors should construct [*Error] values directly instead.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	kind := KindUnknown
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindNetwork
	case containsAny(msg, "rate limit", "too many requests", "429"):
		kind = KindRateLimited
	case containsAny(msg, "quota", "insufficient_quota", "billing"):
		kind = KindQuotaExceeded
	case containsAny(msg, "model not found", "unknown model", "model_not_found", "404"):
		kind = KindModelNotFound
	case containsAny(msg, "unauthorized", "invalid api key", "authentication", "401", "403"):
		kind = KindAuthFailed
	case containsAny(msg, "timeout", "deadline exceeded"):
		kind = KindTimeout
	case containsAny(msg, "connection refused", "connection reset", "no such host", "network", "eof"):
		kind = KindNetwork
	case containsAny(msg, "invalid request", "bad request", "400"):
		kind = KindInvalidRequest
	case containsAny(msg, "unexpected response", "decode", "unmarshal", "empty choices"):
		kind = KindInvalidResponse
	}

	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Errf constructs a classified error from a format string.
func Errf(kind ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
