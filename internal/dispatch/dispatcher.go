// Package dispatch turns user requests into validated execution plans and
// runs them against the tool registry. The pipeline is generate, validate,
// then execute; risky plans suspend at a confirmation gate and resume only
// on an explicit user confirmation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/hopper/internal/config"
	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/internal/providers"
	"github.com/haasonsaas/hopper/internal/registry"
	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

// defaultPlanTimeout bounds the planning model call.
const defaultPlanTimeout = 30 * time.Second

// Recorder persists plan execution outcomes for the audit trail. A nil
// Recorder disables auditing.
type Recorder interface {
	RecordPlan(ctx context.Context, result *models.PlanExecutionResult) error
}

// Outcome is the result of a dispatch: either an executed plan (Result set)
// or a plan suspended at a confirmation gate (Confirmation set). Exactly
// one of the two is non-nil.
type Outcome struct {
	Plan         *models.ExecutionPlan
	Result       *models.PlanExecutionResult
	Confirmation *SuspendedPlan
}

// Suspended reports whether the plan is waiting for user confirmation.
func (o *Outcome) Suspended() bool { return o.Confirmation != nil }

// Options configures a Dispatcher. Registry and Provider are required.
type Options struct {
	Registry *registry.Registry
	Provider providers.Provider
	Audit    Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Config   config.DispatcherConfig
}

// Dispatcher coordinates plan generation, validation, and execution.
type Dispatcher struct {
	registry      *registry.Registry
	provider      providers.Provider
	confirmations *ConfirmationStore
	audit         Recorder
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	cfg           config.DispatcherConfig
}

// New creates a dispatcher. Logger defaults to a no-op logger; Metrics,
// Tracer, and Audit may be nil.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	cfg := opts.Config
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}

	return &Dispatcher{
		registry:      opts.Registry,
		provider:      opts.Provider,
		confirmations: NewConfirmationStore(cfg.ConfirmationTTL, opts.Metrics),
		audit:         opts.Audit,
		logger:        logger,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		cfg:           cfg,
	}, nil
}

// Confirmations exposes the pending confirmation store, for listing and
// sweeping suspended plans.
func (d *Dispatcher) Confirmations() *ConfirmationStore { return d.confirmations }

// GeneratePlan asks the planning model for an execution plan for the given
// request. The returned plan is structurally valid and meets the configured
// confidence floor, but has not yet been validated against the registry.
func (d *Dispatcher) GeneratePlan(ctx context.Context, text, userID string) (*models.ExecutionPlan, error) {
	prompt, err := BuildSystemPrompt(d.registry.CatalogForLLM())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, defaultPlanTimeout)
	defer cancel()

	var span trace.Span
	if d.tracer != nil {
		genCtx, span = d.tracer.TraceLLMRequest(genCtx, d.provider.Name(), "")
		defer span.End()
	}

	resp, err := d.provider.Generate(genCtx, providers.Request{
		System: prompt,
		Prompt: text,
	})
	elapsed := time.Since(start)

	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordLLMRequest(d.provider.Name(), "", "error", elapsed.Seconds(), 0, 0)
		}
		if d.tracer != nil {
			d.tracer.RecordError(span, err)
		}
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}
	if d.metrics != nil {
		d.metrics.RecordLLMRequest(d.provider.Name(), resp.Model, "ok", elapsed.Seconds(),
			resp.PromptTokens, resp.CompletionTokens)
	}

	plan, err := ParsePlan(resp.Text)
	if err != nil {
		d.logger.Warn(ctx, "discarding unparseable plan", "error", err)
		return nil, err
	}

	if plan.Confidence < d.cfg.MinConfidence {
		return nil, &LowConfidenceError{Confidence: plan.Confidence, Minimum: d.cfg.MinConfidence}
	}

	plan.OriginalQuery = text
	plan.UserID = userID
	plan.CreatedAt = time.Now()
	return plan, nil
}

// Dispatch runs the full pipeline for a user request: generate a plan,
// validate it against the registry, then execute it. Plans needing
// confirmation come back suspended instead of executed.
func (d *Dispatcher) Dispatch(ctx context.Context, text, userID string) (*Outcome, error) {
	executionID := uuid.NewString()
	ctx = observability.AddExecutionID(ctx, executionID)
	ctx = observability.AddUserID(ctx, userID)

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.TracePlanDispatch(ctx, executionID, userID)
		defer span.End()
	}

	plan, err := d.GeneratePlan(ctx, text, userID)
	if err != nil {
		d.recordPlanMetrics("unknown", "rejected", 0, 0)
		return nil, err
	}

	d.logger.Info(ctx, "plan generated",
		"intent", string(plan.Intent),
		"confidence", plan.Confidence,
		"tool_calls", len(plan.ToolCalls),
		"risk", string(plan.EffectiveRisk()))

	if validation := ValidatePlan(d.registry, plan); !validation.IsValid {
		d.logger.Warn(ctx, "plan rejected by validation", "errors", validation.Errors)
		d.recordPlanMetrics(string(plan.Intent), "invalid", len(plan.ToolCalls), 0)
		return nil, &PlanValidationError{Result: validation}
	}

	result := models.NewPlanExecutionResult(plan)
	result.FinalMessage = plan.Narration.Message
	return d.execute(ctx, executionID, plan, result, 0, false)
}

// Confirm resumes a suspended plan. The confirmation covers the remainder
// of the plan; no further gates apply.
func (d *Dispatcher) Confirm(ctx context.Context, confirmationID string) (*Outcome, error) {
	sp, err := d.confirmations.Take(confirmationID)
	if err != nil {
		return nil, err
	}

	ctx = observability.AddExecutionID(ctx, sp.ExecutionID)
	ctx = observability.AddUserID(ctx, sp.Plan.UserID)
	d.logger.Info(ctx, "plan confirmed, resuming", "next_call", sp.NextIndex)

	return d.execute(ctx, sp.ExecutionID, sp.Plan, sp.Result, sp.NextIndex, true)
}

// Cancel discards a suspended plan. The partial result is finalized as
// unsuccessful and audited; already-executed calls are not rolled back.
func (d *Dispatcher) Cancel(ctx context.Context, confirmationID string) (*models.PlanExecutionResult, error) {
	sp, err := d.confirmations.Take(confirmationID)
	if err != nil {
		return nil, err
	}

	result := sp.Result
	result.Success = false
	result.Errors = append(result.Errors, "cancelled by user")
	result.MarkCompleted()

	d.logger.Info(ctx, "suspended plan cancelled", "execution_id", sp.ExecutionID)
	d.recordPlanMetrics(string(sp.Plan.Intent), "cancelled", len(sp.Plan.ToolCalls), result.ExecutionTimeSeconds)
	d.recordAudit(ctx, result)
	return result, nil
}

// execute runs plan calls sequentially starting at index from. confirmed
// marks a resumed execution, which skips every confirmation gate.
func (d *Dispatcher) execute(ctx context.Context, executionID string, plan *models.ExecutionPlan, result *models.PlanExecutionResult, from int, confirmed bool) (*Outcome, error) {
	for i := from; i < len(plan.ToolCalls); i++ {
		call := &plan.ToolCalls[i]

		if !confirmed && d.needsConfirmation(plan, call, i == 0) {
			sp := d.confirmations.Suspend(executionID, plan, result, i, confirmationReason(plan, call))
			d.logger.Info(ctx, "plan suspended for confirmation",
				"confirmation_id", sp.ID,
				"call", i,
				"reason", sp.Reason)
			return &Outcome{Plan: plan, Confirmation: sp}, nil
		}

		callResult := d.invokeCall(ctx, executionID, plan, call)
		result.ToolResults = append(result.ToolResults, *callResult)

		if !callResult.Success {
			result.Success = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("call %d (%s.%s): %s", i, call.ToolID, call.Capability, callResult.Error))
			break
		}
	}

	result.MarkCompleted()
	status := "success"
	if !result.Success {
		status = "failed"
	}
	d.recordPlanMetrics(string(plan.Intent), status, len(plan.ToolCalls), result.ExecutionTimeSeconds)
	d.recordAudit(ctx, result)

	d.logger.Info(ctx, "plan execution finished",
		"status", status,
		"calls_run", len(result.ToolResults),
		"duration_s", result.ExecutionTimeSeconds)

	return &Outcome{Plan: plan, Result: result}, nil
}

// invokeCall runs one tool call under the per-tool timeout, attempting the
// declared fallback capability once if the primary fails. Tool calls are
// never retried.
func (d *Dispatcher) invokeCall(ctx context.Context, executionID string, plan *models.ExecutionPlan, call *models.ToolCall) *models.ToolExecutionResult {
	primary := d.invokeCapability(ctx, executionID, plan, call.ToolID, call.Capability, call.Parameters)
	if primary.Success || call.FallbackIfError == "" {
		return primary
	}

	d.logger.Warn(ctx, "tool call failed, attempting fallback",
		"tool_id", call.ToolID,
		"capability", call.Capability,
		"fallback", call.FallbackIfError,
		"error", primary.Error)

	fallback := d.invokeCapability(ctx, executionID, plan, call.ToolID, call.FallbackIfError, call.Parameters)
	if !fallback.Success {
		// Report the primary failure; the fallback attempt is secondary.
		primary.Error = fmt.Sprintf("%s (fallback %s also failed: %s)",
			primary.Error, call.FallbackIfError, fallback.Error)
		return primary
	}
	return fallback
}

func (d *Dispatcher) invokeCapability(ctx context.Context, executionID string, plan *models.ExecutionPlan, toolID, capability string, params map[string]any) *models.ToolExecutionResult {
	start := time.Now()

	fail := func(errMsg, code string) *models.ToolExecutionResult {
		res := &models.ToolExecutionResult{
			Success:         false,
			Error:           errMsg,
			ErrorCode:       code,
			ExecutionTimeMs: float64(time.Since(start).Milliseconds()),
			ToolID:          toolID,
			CapabilityName:  capability,
		}
		d.recordToolMetrics(toolID, capability, "error", time.Since(start))
		return res
	}

	tool := d.registry.GetTool(toolID)
	if tool == nil {
		// The tool was unregistered between validation and execution.
		return fail(fmt.Sprintf("tool %q is no longer registered", toolID),
			string(toolsdk.CodeExecution))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ToolTimeout)
	defer cancel()

	if d.tracer != nil {
		var span trace.Span
		callCtx, span = d.tracer.TraceToolExecution(callCtx, toolID, capability)
		defer span.End()
	}

	res, err := tool.Invoke(callCtx, capability, params, toolsdk.ExecutionContext{
		UserID:      plan.UserID,
		ExecutionID: executionID,
		Source:      toolsdk.SourceLLMAgent,
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(fmt.Sprintf("capability %q timed out after %s", capability, d.cfg.ToolTimeout),
				string(toolsdk.CodeTimeout))
		}
		return fail(err.Error(), string(toolsdk.CodeOf(err)))
	}
	if res == nil {
		return fail("tool returned no result", string(toolsdk.CodeExecution))
	}

	res.ToolID = toolID
	res.CapabilityName = capability
	res.ExecutionTimeMs = float64(elapsed.Milliseconds())

	status := "ok"
	if !res.Success {
		status = "error"
	}
	d.recordToolMetrics(toolID, capability, status, elapsed)
	return res
}

// needsConfirmation reports whether execution must pause before this call.
// The gate is monotonic: per-call flags and high or critical risk always
// suspend, and a plan whose effective risk reaches high suspends before
// its first call even when that call is itself safe.
func (d *Dispatcher) needsConfirmation(plan *models.ExecutionPlan, call *models.ToolCall, first bool) bool {
	if call.RequiresConfirmation || call.RiskLevel.AtLeast(models.RiskHigh) {
		return true
	}
	return first && plan.HasHighRiskActions()
}

func confirmationReason(plan *models.ExecutionPlan, call *models.ToolCall) string {
	switch {
	case call.RiskLevel.AtLeast(models.RiskHigh):
		return fmt.Sprintf("%s.%s is %s risk", call.ToolID, call.Capability, call.RiskLevel)
	case call.RequiresConfirmation:
		return fmt.Sprintf("%s.%s requires confirmation", call.ToolID, call.Capability)
	default:
		return fmt.Sprintf("plan risk is %s", plan.EffectiveRisk())
	}
}

func (d *Dispatcher) recordPlanMetrics(intent, status string, toolCalls int, seconds float64) {
	if d.metrics != nil {
		d.metrics.RecordPlanDispatch(intent, status, toolCalls, seconds)
	}
}

func (d *Dispatcher) recordToolMetrics(toolID, capability, status string, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordToolExecution(toolID, capability, status, elapsed.Seconds())
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, result *models.PlanExecutionResult) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordPlan(ctx, result); err != nil {
		d.logger.Error(ctx, "audit record failed", "error", err)
		if d.metrics != nil {
			d.metrics.RecordError("dispatch", "audit_write")
		}
	}
}
