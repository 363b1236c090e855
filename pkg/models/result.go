package models

import "time"

// ToolExecutionResult is the outcome of one tool capability invocation.
// Failures are reported as values (Success=false plus Error/ErrorCode),
// never by panicking, so partial plan results are preserved.
type ToolExecutionResult struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`

	ExecutionTimeMs float64 `json:"execution_time_ms"`
	ToolID          string  `json:"tool_id"`
	CapabilityName  string  `json:"capability_name"`

	SuggestedNextActions []string `json:"suggested_next_actions,omitempty"`
}

// PlanValidationResult accumulates everything wrong with a plan so the user
// sees one coherent report. Validation is all-or-nothing: a single
// unresolvable call invalidates the whole plan.
type PlanValidationResult struct {
	IsValid             bool                `json:"is_valid"`
	Errors              []string            `json:"errors,omitempty"`
	Warnings            []string            `json:"warnings,omitempty"`
	MissingTools        []string            `json:"missing_tools,omitempty"`
	MissingCapabilities []string            `json:"missing_capabilities,omitempty"`
	InvalidParameters   map[string][]string `json:"invalid_parameters,omitempty"`
}

// AddError records a validation error and marks the result invalid.
func (r *PlanValidationResult) AddError(msg string) {
	r.IsValid = false
	r.Errors = append(r.Errors, msg)
}

// PlanExecutionResult is the aggregated outcome of executing a plan.
type PlanExecutionResult struct {
	Success bool           `json:"success"`
	Plan    *ExecutionPlan `json:"plan"`

	// ToolResults holds per-call results in plan order, up to and including
	// the first failing call.
	ToolResults []ToolExecutionResult `json:"tool_results"`

	ExecutionTimeSeconds float64  `json:"execution_time_seconds"`
	Errors               []string `json:"errors,omitempty"`
	FinalMessage         string   `json:"final_message,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// NewPlanExecutionResult starts a result for the given plan, stamping StartedAt.
func NewPlanExecutionResult(plan *ExecutionPlan) *PlanExecutionResult {
	return &PlanExecutionResult{
		Success:   true,
		Plan:      plan,
		StartedAt: time.Now(),
	}
}

// MarkCompleted stamps CompletedAt and the elapsed duration. It is a no-op
// if the result was already completed; the stamps are set exactly once.
func (r *PlanExecutionResult) MarkCompleted() {
	if !r.CompletedAt.IsZero() {
		return
	}
	r.CompletedAt = time.Now()
	r.ExecutionTimeSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()
}
