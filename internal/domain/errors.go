package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialsRevoked indicates the provider rejected the subject's
	// authorization material. Non-retryable; the subject must re-link.
	ErrCredentialsRevoked = errors.New("provider credentials revoked")
	// ErrNotLinked indicates the subject has no credentials for the source.
	ErrNotLinked = errors.New("subject not linked to source")
)

// RetryableFetchError wraps a transient provider failure (network, timeout,
// rate limit, 5xx). Adapters exhaust their bounded retries before returning
// it; the orchestrator surfaces the affected dates as PartialSuccess.
type RetryableFetchError struct {
	Source Source
	Err    error
}

func (e *RetryableFetchError) Error() string {
	return fmt.Sprintf("%s: transient fetch failure: %v", e.Source, e.Err)
}

func (e *RetryableFetchError) Unwrap() error { return e.Err }

// IsRetryableFetch reports whether err is a transient provider failure.
func IsRetryableFetch(err error) bool {
	var rf *RetryableFetchError
	return errors.As(err, &rf)
}

// NormalizationError indicates a single day's payload could not be mapped to
// the canonical schema. It is isolated per date and never aborts a batch.
type NormalizationError struct {
	Source Source
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: cannot normalize payload: %s", e.Source, e.Reason)
}

// IsNormalization reports whether err is a NormalizationError.
func IsNormalization(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
