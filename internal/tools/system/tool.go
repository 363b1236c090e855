// Package system is the built-in host command tool. Only whitelisted
// executables run, each under a hard timeout.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

const (
	defaultTimeout   = 10 * time.Second
	maxOutputBytes   = 64 << 10
	truncationMarker = "\n... [output truncated]"
)

// Config configures the system tool.
type Config struct {
	// AllowedCommands is the executable whitelist. Empty means every
	// command is refused.
	AllowedCommands []string

	// Timeout bounds one command run. Zero uses 10 seconds.
	Timeout time.Duration

	Logger *observability.Logger
}

// Tool implements toolsdk.Tool for whitelisted command execution.
type Tool struct {
	manifest *toolsdk.Manifest
	allowed  map[string]bool
	timeout  time.Duration
	logger   *observability.Logger
}

// New creates the system tool.
func New(cfg Config) *Tool {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, cmd := range cfg.AllowedCommands {
		if cmd != "" {
			allowed[cmd] = true
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Tool{
		manifest: newManifest(),
		allowed:  allowed,
		timeout:  timeout,
		logger:   logger,
	}
}

func newManifest() *toolsdk.Manifest {
	return &toolsdk.Manifest{
		ToolID:      "system",
		Name:        "System",
		Version:     "1.0.0",
		Category:    toolsdk.CategorySystem,
		Description: "Whitelisted host command execution and system info",
		Capabilities: []toolsdk.Capability{
			{
				Name:        "run_command",
				DisplayName: "Run command",
				Description: "Run a whitelisted executable with arguments",
				Parameters: map[string]toolsdk.ParameterSpec{
					"command": {Type: "string", Required: true, Description: "Executable name"},
					"args":    {Type: "array", Description: "Command arguments"},
				},
				Returns:              map[string]any{"stdout": "string", "stderr": "string", "exit_code": "integer"},
				RiskLevel:            models.RiskHigh,
				RequiresConfirmation: true,
			},
			{
				Name:        "get_system_info",
				DisplayName: "System info",
				Description: "Report host OS, architecture, and CPU count",
				Returns:     map[string]any{"os": "string", "arch": "string", "cpus": "integer"},
				RiskLevel:   models.RiskSafe,
			},
		},
		AuthMethod: toolsdk.AuthNone,
		IsEnabled:  true,
		Tags:       []string{"system", "shell", "local"},
	}
}

// Manifest implements toolsdk.Tool.
func (t *Tool) Manifest() *toolsdk.Manifest { return t.manifest }

// Connect implements toolsdk.Tool.
func (t *Tool) Connect(ctx context.Context, credentials map[string]any) error { return nil }

// Disconnect implements toolsdk.Tool.
func (t *Tool) Disconnect(ctx context.Context) error { return nil }

// TestConnection implements toolsdk.Tool.
func (t *Tool) TestConnection(ctx context.Context) bool { return true }

// ValidateParameters checks the schema and the command whitelist. A command
// outside the whitelist fails validation so the plan is rejected up front.
func (t *Tool) ValidateParameters(capability string, parameters map[string]any) error {
	if err := t.manifest.ValidateParameters(capability, parameters); err != nil {
		return err
	}
	if capability == "run_command" {
		command, _ := parameters["command"].(string)
		if err := t.checkAllowed(command); err != nil {
			return toolsdk.NewParameterValidationError(t.manifest.ToolID, err.Error(), nil)
		}
	}
	return nil
}

func (t *Tool) checkAllowed(command string) error {
	if command == "" {
		return fmt.Errorf("command is empty")
	}
	if strings.ContainsAny(command, "/\\") {
		return fmt.Errorf("command %q must be a bare executable name", command)
	}
	if !t.allowed[command] {
		return fmt.Errorf("command %q is not whitelisted", command)
	}
	return nil
}

// Invoke implements toolsdk.Tool.
func (t *Tool) Invoke(ctx context.Context, capability string, parameters map[string]any, execCtx toolsdk.ExecutionContext) (*models.ToolExecutionResult, error) {
	start := time.Now()

	var data map[string]any
	var err error
	switch capability {
	case "run_command":
		data, err = t.runCommand(ctx, parameters)
	case "get_system_info":
		data = map[string]any{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
			"cpus": runtime.NumCPU(),
		}
	default:
		err = toolsdk.NewCapabilityNotFoundError(t.manifest.ToolID, capability)
	}

	result := &models.ToolExecutionResult{
		Success:         err == nil,
		Data:            data,
		ExecutionTimeMs: float64(time.Since(start).Milliseconds()),
		ToolID:          t.manifest.ToolID,
		CapabilityName:  capability,
	}
	if err != nil {
		result.Error = err.Error()
		result.ErrorCode = string(toolsdk.CodeOf(err))
	}
	return result, nil
}

func (t *Tool) runCommand(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	command, _ := parameters["command"].(string)
	if err := t.checkAllowed(command); err != nil {
		return nil, toolsdk.NewParameterValidationError(t.manifest.ToolID, err.Error(), nil)
	}
	args := stringSlice(parameters["args"])

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Info(ctx, "running command", "command", command, "args", args)
	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, toolsdk.NewTimeoutError(t.manifest.ToolID,
			fmt.Sprintf("command %q exceeded %s", command, t.timeout))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, toolsdk.NewExecutionError(t.manifest.ToolID,
				fmt.Sprintf("command %q failed to start", command), err)
		}
	}

	data := map[string]any{
		"stdout":    truncate(stdout.String()),
		"stderr":    truncate(stderr.String()),
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		return data, toolsdk.NewExecutionError(t.manifest.ToolID,
			fmt.Sprintf("command %q exited with code %d: %s", command, exitCode,
				strings.TrimSpace(truncate(stderr.String()))), nil)
	}
	return data, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + truncationMarker
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
