package reliability

import (
	"errors"
	"time"
)

// Kind buckets a failure by how the orchestrator should react to it.
type Kind string

const (
	// KindRetriable covers transient transport failures; the caller may
	// resurrect the request at its own discretion.
	KindRetriable Kind = "retriable"
	// KindFatal covers client-side protocol failures; the turn is aborted
	// and the error surfaced to the user.
	KindFatal Kind = "fatal"
	// KindSynthesis covers per-segment synthesis failures; the segment
	// degrades to silence and later segments keep flowing.
	KindSynthesis Kind = "synthesis"
)

// ClassifyHTTPStatus maps a non-2xx upstream status code to a failure kind.
// 4xx statuses are fatal except 429, which is rate limiting and behaves like
// any other transient failure.
func ClassifyHTTPStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRetriable
	case code >= 400 && code < 500:
		return KindFatal
	default:
		return KindRetriable
	}
}

// IsRetryableHTTPStatus reports whether a status code is worth retrying.
func IsRetryableHTTPStatus(code int) bool {
	return ClassifyHTTPStatus(code) == KindRetriable
}

// IsRetryableRealtimeMessageType classifies retryable upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}

// ClassifiedError carries a failure kind alongside the underlying cause so
// callers can route on policy without string matching.
type ClassifiedError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a kind, preserving an already-classified error.
func Classify(kind Kind, status int, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return &ClassifiedError{Kind: kind, Status: status, Err: err}
}

// KindOf extracts the failure kind from err. Unclassified errors default to
// retriable so plain network failures get the transient treatment.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRetriable
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
