package dispatch

import (
	"fmt"

	"github.com/haasonsaas/hopper/internal/registry"
	"github.com/haasonsaas/hopper/pkg/models"
)

// ValidatePlan resolves every tool call in the plan against the registry
// and pre-flights parameters. It always inspects the whole plan so the
// result reports everything wrong at once; the plan is rejected if any
// call fails to resolve.
func ValidatePlan(reg *registry.Registry, plan *models.ExecutionPlan) *models.PlanValidationResult {
	result := &models.PlanValidationResult{IsValid: true}

	for i := range plan.ToolCalls {
		call := &plan.ToolCalls[i]

		// Disabled tools are invisible to the planner, so a plan naming one
		// is rejected the same way as one naming an unknown tool.
		tool := reg.GetEnabledTool(call.ToolID)
		if tool == nil {
			result.AddError(fmt.Sprintf("call %d: tool %q is not available", i, call.ToolID))
			result.MissingTools = appendUnique(result.MissingTools, call.ToolID)
			continue
		}

		manifest := tool.Manifest()
		if manifest.Capability(call.Capability) == nil {
			result.AddError(fmt.Sprintf("call %d: tool %q has no capability %q", i, call.ToolID, call.Capability))
			result.MissingCapabilities = appendUnique(result.MissingCapabilities,
				call.ToolID+"."+call.Capability)
			continue
		}

		if err := tool.ValidateParameters(call.Capability, call.Parameters); err != nil {
			result.AddError(fmt.Sprintf("call %d: invalid parameters for %s.%s", i, call.ToolID, call.Capability))
			if result.InvalidParameters == nil {
				result.InvalidParameters = make(map[string][]string)
			}
			key := call.ToolID + "." + call.Capability
			result.InvalidParameters[key] = append(result.InvalidParameters[key], err.Error())
			continue
		}

		// A declared fallback must itself resolve, otherwise the failure
		// path would fail at execution time instead of up front.
		if call.FallbackIfError != "" && manifest.Capability(call.FallbackIfError) == nil {
			result.AddError(fmt.Sprintf("call %d: fallback capability %q not found on tool %q",
				i, call.FallbackIfError, call.ToolID))
			result.MissingCapabilities = appendUnique(result.MissingCapabilities,
				call.ToolID+"."+call.FallbackIfError)
		}
	}

	return result
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
