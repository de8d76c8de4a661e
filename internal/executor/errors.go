package executor

import "fmt"

// FailureKind is the error taxonomy shared across the actuation engine.
type FailureKind string

const (
	// PolicyRejection: the validator blocked the command. Never retried,
	// surfaced verbatim.
	PolicyRejection FailureKind = "policy_rejection"
	// ExecutionFailure: process exited non-zero or an OS-level error.
	// Retried only if the step allows it.
	ExecutionFailure FailureKind = "execution_failure"
	// VerificationInconclusive: detector/verifier unreachable. Treated as
	// a pass, logged as degraded.
	VerificationInconclusive FailureKind = "verification_inconclusive"
	// VerificationFailed: explicit mismatch. Triggers the
	// alternative-strategy search.
	VerificationFailed FailureKind = "verification_failed"
	// TimeoutExceeded: step or plan deadline hit. Partial results kept.
	TimeoutExceeded FailureKind = "timeout"
	// SecurityBoundaryViolation: cwd/exec path escaped permitted roots.
	// Always fatal, never retried.
	SecurityBoundaryViolation FailureKind = "security_boundary_violation"
)

// Failure is a classified error. Retryable failures may be re-attempted by
// the step executor's policy; the rest terminate the step immediately.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func NewFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether the step executor may re-attempt after this
// failure.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case ExecutionFailure, VerificationFailed:
		return true
	default:
		return false
	}
}
