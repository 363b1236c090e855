package toolsdk

import (
	"context"
	"time"

	"github.com/haasonsaas/hopper/pkg/models"
)

// ExecutionSource tags who initiated a tool invocation. The dispatcher's
// confirmation policy may differ between model-initiated calls and direct
// user commands.
type ExecutionSource string

const (
	SourceLLMAgent    ExecutionSource = "llm_agent"
	SourceUserCommand ExecutionSource = "user_command"
	SourceScheduler   ExecutionSource = "scheduler"
)

// ExecutionContext carries per-invocation metadata: who is acting, their
// consent state, and the execution id used for audit correlation.
type ExecutionContext struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`

	HasConsent       bool      `json:"has_consent,omitempty"`
	ConsentExpiresAt time.Time `json:"consent_expires_at,omitzero"`

	// ExecutionID correlates this invocation across logs, traces, and the
	// audit store.
	ExecutionID string `json:"execution_id,omitempty"`

	Source ExecutionSource `json:"source"`
}

// Tool is the capability provider interface. Every tool, whether built in
// or registered externally, implements this contract.
//
// Invoke is the only side-effecting entry point. ValidateParameters must be
// pure so the dispatcher can pre-flight an entire plan before executing any
// step.
type Tool interface {
	// Manifest returns the tool's static capability description.
	Manifest() *Manifest

	// Connect establishes the connection to the backing service using the
	// credentials described by the manifest's credentials schema. It fails
	// with an authentication or connection ToolError.
	Connect(ctx context.Context, credentials map[string]any) error

	// Disconnect closes the connection cleanly.
	Disconnect(ctx context.Context) error

	// TestConnection reports whether the connection is live and usable.
	TestConnection(ctx context.Context) bool

	// ValidateParameters checks parameters against the capability's declared
	// schema without attempting any side effect.
	ValidateParameters(capability string, parameters map[string]any) error

	// Invoke executes a capability. Failures are returned as a result value
	// with Success=false where possible; a non-nil error indicates the
	// invocation could not be attempted at all (unknown capability, invalid
	// parameters).
	Invoke(ctx context.Context, capability string, parameters map[string]any, execCtx ExecutionContext) (*models.ToolExecutionResult, error)
}

// Connected is implemented by tools that track connection state.
type Connected interface {
	IsConnected() bool
}
