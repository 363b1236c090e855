package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/hopper/internal/registry"
	"github.com/haasonsaas/hopper/pkg/models"
)

var (
	planSchemaOnce sync.Once
	planSchemaJSON []byte
	planSchemaErr  error
)

// PlanSchemaJSON returns the JSON Schema for ExecutionPlan, reflected once
// and cached for the process lifetime. It is embedded in every planning
// prompt so the model sees the exact output contract.
func PlanSchemaJSON() ([]byte, error) {
	planSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
		}
		schema := r.Reflect(&models.ExecutionPlan{})
		planSchemaJSON, planSchemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return planSchemaJSON, planSchemaErr
}

// BuildSystemPrompt renders the planning system prompt from the live tool
// catalog. Only enabled tools appear; the model must never see a tool it
// cannot call.
func BuildSystemPrompt(catalog []registry.CatalogEntry) (string, error) {
	schema, err := PlanSchemaJSON()
	if err != nil {
		return "", fmt.Errorf("reflect plan schema: %w", err)
	}

	catalogJSON, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode tool catalog: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are the planning engine of a personal assistant. ")
	b.WriteString("Given the user's request, produce a single execution plan as JSON.\n\n")

	b.WriteString("Available tools:\n")
	b.Write(catalogJSON)
	b.WriteString("\n\n")

	b.WriteString("The plan must conform to this JSON Schema:\n")
	b.Write(schema)
	b.WriteString("\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Respond with JSON only. No prose, no markdown fences.\n")
	b.WriteString("- Use only tools and capabilities from the catalog above.\n")
	fmt.Fprintf(&b, "- At most %d tool calls per plan.\n", models.MaxToolCallsPerPlan)
	b.WriteString("- confidence is your calibrated estimate in [0, 1].\n")
	b.WriteString("- Set requires_confirmation on any call that changes state irreversibly.\n")
	b.WriteString("- Set fallback_if_error to an alternate capability on the same tool only when a real alternative exists.\n")
	b.WriteString("- For pure questions, return an empty tool_calls list and answer in the narration.\n")

	return b.String(), nil
}
