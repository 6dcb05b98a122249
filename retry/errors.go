package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrEarlyStop is returned by an AttemptHandler to end the current
	// attempt successfully before the stream is exhausted.
	ErrEarlyStop = errors.New("early stop")
	// ErrRetriesExhausted wraps the last recoverable failure once no retry is left.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RecoverableError is a failure the policy reacts to by feeding Reason back
// into the conversation and trying again.
type RecoverableError struct {
	Reason string
	Err    error
}

// Recoverable creates a RecoverableError.
func Recoverable(reason string, err error) *RecoverableError {
	return &RecoverableError{Reason: reason, Err: err}
}

// Recoverablef creates a RecoverableError with a formatted reason.
func Recoverablef(format string, args ...any) *RecoverableError {
	return &RecoverableError{Reason: fmt.Sprintf(format, args...)}
}

func (e *RecoverableError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// Feedback is the assistant message appended to the conversation before a retry.
func (e *RecoverableError) Feedback() string {
	return "The previous response was rejected: " + e.Error() + ". Correct it and answer again."
}

// IsRecoverable reports whether err carries a RecoverableError.
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}
