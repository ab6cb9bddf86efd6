package retry

import (
	"fmt"
	"time"
)

// Outcome classifies one attempt.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient-failure"
	case PermanentFailure:
		return "permanent-failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt records one invocation made by Do.
type Attempt struct {
	Index   int           // 1-based
	Delay   time.Duration // wait before this attempt
	Outcome Outcome
	Err     error
}

// ExhaustedError is returned after MaxAttempts consecutive transient failures.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// CanceledError is returned when the context ends between attempts.
type CanceledError struct {
	Attempts int   // attempts made before cancellation
	Err      error // context error
	Last     error // last attempt's failure, if any
}

func (e *CanceledError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("retry canceled after %d attempts: %v (last failure: %v)", e.Attempts, e.Err, e.Last)
	}
	return fmt.Sprintf("retry canceled after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }
