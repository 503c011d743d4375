package tools

import (
	"errors"
	"fmt"
)

// ErrorCode classifies tool failures. The set is closed: every failure
// surfaced to the model carries exactly one of these codes, so the model
// can react without parsing prose.
type ErrorCode string

const (
	// ErrCodeToolNotFound means the requested tool is not registered.
	ErrCodeToolNotFound ErrorCode = "tool_not_found"

	// ErrCodeInvalidArguments means the arguments failed schema validation.
	ErrCodeInvalidArguments ErrorCode = "invalid_arguments"

	// ErrCodeConfirmationRequired means the tool is gated and no valid
	// confirmation token accompanied the call.
	ErrCodeConfirmationRequired ErrorCode = "confirmation_required"

	// ErrCodeRateLimited means the provider's sliding window is full.
	ErrCodeRateLimited ErrorCode = "rate_limited"

	// ErrCodeBudgetExceeded means a per-run cap would be breached.
	ErrCodeBudgetExceeded ErrorCode = "budget_exceeded"

	// ErrCodeTimeout means the tool ran past its deadline and was abandoned.
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeExecutionFailed means the tool itself returned an error.
	ErrCodeExecutionFailed ErrorCode = "execution_failed"

	// ErrCodeCycleLimitExceeded means the loop hit its cycle cap.
	ErrCodeCycleLimitExceeded ErrorCode = "cycle_limit_exceeded"

	// ErrCodeDecompositionFailed means research planning produced no steps.
	ErrCodeDecompositionFailed ErrorCode = "decomposition_failed"
)

// Failure is a classified tool error. It travels inside the result
// envelope as data, never as a raw Go error crossing the loop boundary.
type Failure struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Failf builds a classified failure.
func Failf(code ErrorCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsFailure extracts a Failure from err, classifying unrecognized errors
// as execution failures so the taxonomy stays closed.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Code: ErrCodeExecutionFailed, Message: err.Error()}
}

// CodeOf returns the classification of err, or empty for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsFailure(err).Code
}
