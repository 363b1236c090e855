package dispatch

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/haasonsaas/hopper/pkg/models"
)

// ParsePlan decodes a model completion into an ExecutionPlan. Markdown code
// fences are stripped first since models wrap JSON in them despite
// instructions. Anything that fails strict decoding or structural
// validation is a PlanParseError carrying the raw completion.
func ParsePlan(raw string) (*models.ExecutionPlan, error) {
	text := stripCodeFences(raw)
	if text == "" {
		return nil, &PlanParseError{Reason: "empty completion", Raw: raw}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var plan models.ExecutionPlan
	if err := dec.Decode(&plan); err != nil {
		return nil, &PlanParseError{Reason: "invalid JSON", Raw: raw, Cause: err}
	}
	// Trailing non-whitespace after the JSON object means the model mixed
	// prose into the output.
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, &PlanParseError{Reason: "trailing content after plan JSON", Raw: raw}
	}

	if err := plan.Validate(); err != nil {
		return nil, &PlanParseError{Reason: "structurally invalid plan", Raw: raw, Cause: err}
	}
	return &plan, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if present
// and trims whitespace.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
