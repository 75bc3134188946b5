package domain

import (
	"fmt"
	"time"
)

// OutcomeKind is the closed set of results an inference call can produce.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeThrottle
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeThrottle:
		return "throttle"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is returned by an inference invoker. Text is set only on success.
// RetryAfter carries the provider hint on throttle, when present.
type Outcome struct {
	Kind       OutcomeKind
	Text       string
	RetryAfter time.Duration
	Err        error
}

// Success builds a successful outcome.
func Success(text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: text}
}

// Throttle builds a throttle outcome.
func Throttle(retryAfter time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeThrottle, RetryAfter: retryAfter, Err: err}
}

// Permanent builds a non-retryable failure outcome.
func Permanent(err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Err: err}
}

// FailureKind classifies why the retry controller gave up.
type FailureKind string

const (
	// FailureQuotaExhausted halts the whole run.
	FailureQuotaExhausted FailureKind = "quota_exhausted"
	// FailurePermanent skips the current item only.
	FailurePermanent FailureKind = "permanent"
)

// Failure is returned by the retry controller when no response could be obtained.
type Failure struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("inference %s after %d attempt(s)", f.Kind, f.Attempts)
	}
	return fmt.Sprintf("inference %s after %d attempt(s): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
