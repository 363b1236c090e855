package toolsdk

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateParameters checks a parameter map against the capability's
// declared parameter specs. The specs are compiled into a JSON Schema and
// cached process-wide, so repeated pre-flight validation of the same
// capability is cheap.
func (m *Manifest) ValidateParameters(capability string, parameters map[string]any) error {
	cap := m.Capability(capability)
	if cap == nil {
		return NewCapabilityNotFoundError(m.ToolID, capability)
	}
	return cap.ValidateParameters(m.ToolID, parameters)
}

// ValidateParameters checks parameters against this capability's specs.
func (c *Capability) ValidateParameters(toolID string, parameters map[string]any) error {
	if len(c.Parameters) == 0 {
		return nil
	}

	schema, err := compileParameterSchema(c)
	if err != nil {
		return NewParameterValidationError(toolID, "compile parameter schema", err)
	}

	// Round-trip through JSON so typed values (int vs float64) normalize
	// the same way they would arriving from the model.
	payload, err := json.Marshal(parameters)
	if err != nil {
		return NewParameterValidationError(toolID, "encode parameters", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return NewParameterValidationError(toolID, "decode parameters", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}

	if err := schema.Validate(decoded); err != nil {
		return NewParameterValidationError(toolID,
			fmt.Sprintf("parameters for %q invalid", c.Name), err)
	}
	return nil
}

var paramSchemaCache sync.Map

// compileParameterSchema builds a JSON Schema object from the capability's
// parameter specs. Unknown parameter types fall back to accepting any value.
func compileParameterSchema(c *Capability) (*jsonschema.Schema, error) {
	raw, err := parameterSchemaJSON(c)
	if err != nil {
		return nil, err
	}

	key := string(raw)
	if cached, ok := paramSchemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("capability.params.json", key)
	if err != nil {
		return nil, err
	}
	paramSchemaCache.Store(key, compiled)
	return compiled, nil
}

var jsonSchemaTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
	"null":    true,
}

func parameterSchemaJSON(c *Capability) ([]byte, error) {
	properties := make(map[string]any, len(c.Parameters))
	var required []string
	for name, spec := range c.Parameters {
		prop := map[string]any{}
		if jsonSchemaTypes[spec.Type] {
			prop["type"] = spec.Type
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}
