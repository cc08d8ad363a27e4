package types

import (
	"context"
	"errors"
	"fmt"
)

// FailureReason classifies a terminal failure.
type FailureReason string

const (
	ReasonTimeout              FailureReason = "timeout"
	ReasonProcessError         FailureReason = "process_error"
	ReasonBackendUnavailable   FailureReason = "backend_unavailable"
	ReasonMalformedOutput      FailureReason = "malformed_output"
	ReasonPolicyViolation      FailureReason = "policy_violation"
	ReasonStorageCommitFailure FailureReason = "storage_commit_failure"
	ReasonSessionBusy          FailureReason = "session_busy"
	ReasonCancelled            FailureReason = "cancelled"
)

// Recoverable reports whether the reason permits a cross-backend fallback.
func (r FailureReason) Recoverable() bool {
	return r == ReasonMalformedOutput || r == ReasonBackendUnavailable
}

// UserMessage returns a short message suitable for showing to the end user.
// tool is only used for policy violations.
func (r FailureReason) UserMessage(tool string) string {
	switch r {
	case ReasonTimeout:
		return "The assistant took too long to respond. Please try again."
	case ReasonPolicyViolation:
		if tool != "" {
			return fmt.Sprintf("The tool %q is not permitted by the current policy.", tool)
		}
		return "A tool request was refused by the current policy."
	case ReasonStorageCommitFailure:
		return "The reply was produced but may not have been recorded in your session."
	case ReasonBackendUnavailable:
		return "The assistant backend is currently unavailable."
	case ReasonMalformedOutput:
		return "The assistant returned output that could not be understood."
	case ReasonSessionBusy:
		return "Another request is still running in this session."
	case ReasonCancelled:
		return "The request was cancelled."
	default:
		return "The assistant failed to complete the request."
	}
}

// Failure is an error classified into the failure taxonomy.
type Failure struct {
	Reason FailureReason
	Detail string
	Tool   string
	Err    error
}

// NewFailure creates a classified failure.
func NewFailure(reason FailureReason, detail string) *Failure {
	return &Failure{Reason: reason, Detail: detail}
}

// Failuref creates a classified failure wrapping err.
func Failuref(reason FailureReason, err error, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (f *Failure) Error() string {
	msg := string(f.Reason)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Update converts the failure into a terminal stream update.
func (f *Failure) Update() Failed {
	detail := f.Detail
	if f.Err != nil {
		if detail != "" {
			detail += ": "
		}
		detail += f.Err.Error()
	}
	return Failed{Reason: f.Reason, Detail: detail}
}

// AsFailure classifies err. Classified failures are returned as-is; context
// errors map to timeout or cancelled; anything else becomes a process error.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &Failure{Reason: ReasonCancelled, Err: err}
	}
	return &Failure{Reason: ReasonProcessError, Err: err}
}
