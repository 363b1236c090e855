package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// IntentType classifies what the user is asking for.
type IntentType string

const (
	IntentQuestion     IntentType = "question"
	IntentSystemAction IntentType = "system_action"
	IntentEmail        IntentType = "email"
	IntentCalendar     IntentType = "calendar"
	IntentLearn        IntentType = "learn"
	IntentControl      IntentType = "control"
	IntentSearch       IntentType = "search"
	IntentGeneral      IntentType = "general"
	IntentMultiStep    IntentType = "multi_step"
)

// Valid reports whether the intent is one of the supported values.
func (i IntentType) Valid() bool {
	switch i {
	case IntentQuestion, IntentSystemAction, IntentEmail, IntentCalendar,
		IntentLearn, IntentControl, IntentSearch, IntentGeneral, IntentMultiStep:
		return true
	}
	return false
}

// RiskLevel is a totally ordered safety classification for planned actions.
// Ordering: safe < low < medium < high < critical.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskScores = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Score returns the numeric rank of the risk level (0 for safe, 4 for
// critical). Unknown levels rank as safe.
func (r RiskLevel) Score() int {
	return riskScores[r]
}

// Valid reports whether the risk level is one of the supported values.
func (r RiskLevel) Valid() bool {
	_, ok := riskScores[r]
	return ok
}

// AtLeast reports whether r ranks at or above other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Score() >= other.Score()
}

// identRe matches valid tool and capability identifiers.
var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidIdentifier reports whether s is a legal tool_id or capability name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// ToolCall is one planned tool invocation inside an ExecutionPlan.
type ToolCall struct {
	// ToolID identifies the tool in the registry (e.g. "filesystem").
	ToolID string `json:"tool_id"`

	// Capability is the action to invoke (e.g. "list_directory").
	Capability string `json:"capability"`

	// Parameters are the call arguments, keyed by parameter name.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Reasoning is the model's stated justification, kept for the audit trail.
	Reasoning string `json:"reasoning,omitempty"`

	// RiskLevel is the model's risk estimate for this call.
	RiskLevel RiskLevel `json:"risk_level"`

	// RequiresConfirmation forces an explicit user confirmation before execution.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`

	// FallbackIfError names an alternative capability to attempt once if
	// this call fails. Empty means fail the plan at this step.
	FallbackIfError string `json:"fallback_if_error,omitempty"`
}

// Validate checks identifier formats and the risk level.
func (c *ToolCall) Validate() error {
	if !ValidIdentifier(c.ToolID) {
		return fmt.Errorf("invalid tool_id %q", c.ToolID)
	}
	if !ValidIdentifier(c.Capability) {
		return fmt.Errorf("invalid capability %q", c.Capability)
	}
	if c.RiskLevel != "" && !c.RiskLevel.Valid() {
		return fmt.Errorf("invalid risk_level %q", c.RiskLevel)
	}
	if c.FallbackIfError != "" && !ValidIdentifier(c.FallbackIfError) {
		return fmt.Errorf("invalid fallback_if_error %q", c.FallbackIfError)
	}
	return nil
}

// MaxNarrationLength bounds the user-facing message size.
const MaxNarrationLength = 2000

// Narration is the user-facing message attached to a plan.
type Narration struct {
	Message            string   `json:"message"`
	Tone               string   `json:"tone,omitempty"`
	ShouldSpeak        bool     `json:"should_speak,omitempty"`
	Urgency            string   `json:"urgency,omitempty"`
	ContextHints       []string `json:"context_hints,omitempty"`
	SuggestedFollowUps []string `json:"suggested_follow_ups,omitempty"`
}

// Validate checks that the message is present and within bounds.
func (n *Narration) Validate() error {
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("narration message is empty")
	}
	if len(n.Message) > MaxNarrationLength {
		return fmt.Errorf("narration message exceeds %d characters", MaxNarrationLength)
	}
	return nil
}

// MaxToolCallsPerPlan bounds plan complexity.
const MaxToolCallsPerPlan = 20

// ExecutionPlan is the structured output of the planning step: the detected
// intent, an ordered list of tool calls, and the narration to deliver.
// A plan is immutable once constructed; validation failures reject it rather
// than mutating it.
type ExecutionPlan struct {
	Intent     IntentType `json:"intent"`
	Confidence float64    `json:"confidence"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	Narration  Narration  `json:"narration"`
	Reasoning  string     `json:"reasoning,omitempty"`

	OriginalQuery string    `json:"original_query,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the structural invariants of the plan: a known intent,
// confidence within [0,1], at most MaxToolCallsPerPlan calls, valid
// identifiers on every call, and a non-empty narration.
func (p *ExecutionPlan) Validate() error {
	if !p.Intent.Valid() {
		return fmt.Errorf("unknown intent %q", p.Intent)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	if len(p.ToolCalls) > MaxToolCallsPerPlan {
		return fmt.Errorf("plan has %d tool calls, max is %d", len(p.ToolCalls), MaxToolCallsPerPlan)
	}
	for i := range p.ToolCalls {
		if err := p.ToolCalls[i].Validate(); err != nil {
			return fmt.Errorf("tool call %d: %w", i, err)
		}
	}
	if err := p.Narration.Validate(); err != nil {
		return err
	}
	return nil
}

// TotalRiskScore returns the maximum risk score across all tool calls,
// or 0 for a plan with no calls.
func (p *ExecutionPlan) TotalRiskScore() int {
	score := 0
	for i := range p.ToolCalls {
		if s := p.ToolCalls[i].RiskLevel.Score(); s > score {
			score = s
		}
	}
	return score
}

// EffectiveRisk returns the highest risk level across all tool calls,
// or RiskSafe for an empty plan.
func (p *ExecutionPlan) EffectiveRisk() RiskLevel {
	level := RiskSafe
	for i := range p.ToolCalls {
		if p.ToolCalls[i].RiskLevel.Score() > level.Score() {
			level = p.ToolCalls[i].RiskLevel
		}
	}
	return level
}

// HasHighRiskActions reports whether any call is high or critical risk.
func (p *ExecutionPlan) HasHighRiskActions() bool {
	return p.EffectiveRisk().AtLeast(RiskHigh)
}

// RequiresUserConfirmation reports whether the plan must be confirmed before
// execution. True when any call sets RequiresConfirmation, and always true
// for plans containing high or critical risk actions. The upgrade is
// monotonic: individual call flags can never downgrade a high-risk plan.
func (p *ExecutionPlan) RequiresUserConfirmation() bool {
	if p.HasHighRiskActions() {
		return true
	}
	for i := range p.ToolCalls {
		if p.ToolCalls[i].RequiresConfirmation {
			return true
		}
	}
	return false
}
