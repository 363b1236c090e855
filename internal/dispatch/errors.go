package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/hopper/pkg/models"
)

var (
	// ErrConfirmationNotFound is returned when a confirmation ID does not
	// match any suspended plan.
	ErrConfirmationNotFound = errors.New("no suspended plan for confirmation id")

	// ErrConfirmationExpired is returned when a suspended plan's TTL has
	// elapsed before the user answered.
	ErrConfirmationExpired = errors.New("confirmation request expired")

	// ErrNoProvider is returned when the dispatcher has no planning
	// provider configured.
	ErrNoProvider = errors.New("no planning provider configured")
)

// PlanParseError reports model output that could not be turned into a
// structurally valid ExecutionPlan. Raw carries the offending completion
// for logging and audit.
type PlanParseError struct {
	Reason string
	Raw    string
	Cause  error
}

func (e *PlanParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plan parse failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("plan parse failed: %s", e.Reason)
}

func (e *PlanParseError) Unwrap() error { return e.Cause }

// PlanValidationError reports a plan that parsed cleanly but failed
// registry validation. The whole plan is rejected; Result carries the
// per-call findings.
type PlanValidationError struct {
	Result *models.PlanValidationResult
}

func (e *PlanValidationError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return "plan validation failed"
	}
	return "plan validation failed: " + strings.Join(e.Result.Errors, "; ")
}

// LowConfidenceError reports a generated plan whose confidence fell below
// the configured minimum.
type LowConfidenceError struct {
	Confidence float64
	Minimum    float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("plan confidence %.2f below minimum %.2f", e.Confidence, e.Minimum)
}
