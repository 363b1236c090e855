// Package toolsdk defines the contract between the assistant core and
// capability providers: the declarative manifest describing what a tool can
// do, the Tool interface every provider implements, and parameter
// validation against the declared schemas.
package toolsdk

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/haasonsaas/hopper/pkg/models"
)

// ManifestFilename is the conventional on-disk name for an external manifest.
const ManifestFilename = "hopper.tool.json"

// AuthMethod enumerates how a tool authenticates to its backing service.
type AuthMethod string

const (
	AuthNone        AuthMethod = "none"
	AuthBasic       AuthMethod = "basic"
	AuthOAuth2      AuthMethod = "oauth2"
	AuthAPIKey      AuthMethod = "api_key"
	AuthToken       AuthMethod = "token"
	AuthCertificate AuthMethod = "certificate"
	AuthMFA         AuthMethod = "mfa"
	AuthBiometric   AuthMethod = "biometric"
	AuthKeystore    AuthMethod = "keystore"
)

// Category groups tools by domain.
type Category string

const (
	CategoryCommunication Category = "communication"
	CategoryCalendar      Category = "calendar"
	CategoryFilesystem    Category = "filesystem"
	CategorySystem        Category = "system"
	CategorySecurity      Category = "security"
	CategoryFinance       Category = "finance"
	CategoryProductivity  Category = "productivity"
	CategorySocial        Category = "social"
	CategoryIoT           Category = "iot"
	CategoryWeb           Category = "web"
)

// ParameterSpec describes one capability parameter.
type ParameterSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// Capability is one named, parameterized action a tool exposes.
type Capability struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description"`

	// Parameters maps parameter name to its spec.
	Parameters map[string]ParameterSpec `json:"parameters,omitempty"`

	// Returns documents the shape of the result data.
	Returns map[string]any `json:"returns,omitempty"`

	RequiresConfirmation bool             `json:"requires_confirmation,omitempty"`
	RiskLevel            models.RiskLevel `json:"risk_level"`
}

// CapabilitySummary is the compact form of a capability injected into model
// prompts via the registry catalog.
type CapabilitySummary struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Parameters           []string `json:"parameters,omitempty"`
	Risk                 string   `json:"risk"`
	RequiresConfirmation bool     `json:"needs_confirmation"`
}

// Manifest is the static, declarative description of one tool. It is
// created when the tool is constructed and immutable thereafter; a hot
// reload replaces the whole manifest atomically.
type Manifest struct {
	ToolID      string   `json:"tool_id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Category    Category `json:"category"`
	Description string   `json:"description,omitempty"`

	Capabilities []Capability `json:"capabilities"`

	AuthMethod        AuthMethod     `json:"auth_method"`
	CredentialsSchema map[string]any `json:"credentials_schema,omitempty"`

	// RateLimits maps a limit name (e.g. "requests_per_minute") to its value.
	RateLimits map[string]int `json:"rate_limits,omitempty"`

	RequiresInternet bool `json:"requires_internet,omitempty"`
	IsEnabled        bool `json:"is_enabled"`

	Tags []string `json:"tags,omitempty"`
}

// DecodeManifest parses a manifest from JSON.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// DecodeManifestFile reads and parses a manifest file.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(data)
}

// Validate checks identity fields and capability uniqueness.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if !models.ValidIdentifier(m.ToolID) {
		return fmt.Errorf("manifest tool_id %q is invalid", m.ToolID)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest name is required")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("manifest declares no capabilities")
	}
	seen := make(map[string]struct{}, len(m.Capabilities))
	for i := range m.Capabilities {
		cap := &m.Capabilities[i]
		if !models.ValidIdentifier(cap.Name) {
			return fmt.Errorf("capability name %q is invalid", cap.Name)
		}
		if _, dup := seen[cap.Name]; dup {
			return fmt.Errorf("duplicate capability %q", cap.Name)
		}
		seen[cap.Name] = struct{}{}
		if cap.RiskLevel != "" && !cap.RiskLevel.Valid() {
			return fmt.Errorf("capability %q has invalid risk level %q", cap.Name, cap.RiskLevel)
		}
	}
	return nil
}

// Capability returns the named capability, or nil if the manifest does not
// declare it.
func (m *Manifest) Capability(name string) *Capability {
	for i := range m.Capabilities {
		if m.Capabilities[i].Name == name {
			return &m.Capabilities[i]
		}
	}
	return nil
}

// CapabilitySummaries returns the compact capability list used in model
// prompts.
func (m *Manifest) CapabilitySummaries() []CapabilitySummary {
	out := make([]CapabilitySummary, 0, len(m.Capabilities))
	for i := range m.Capabilities {
		cap := &m.Capabilities[i]
		params := make([]string, 0, len(cap.Parameters))
		for name := range cap.Parameters {
			params = append(params, name)
		}
		sort.Strings(params)
		risk := cap.RiskLevel
		if risk == "" {
			risk = models.RiskSafe
		}
		out = append(out, CapabilitySummary{
			Name:                 cap.Name,
			Description:          cap.Description,
			Parameters:           params,
			Risk:                 string(risk),
			RequiresConfirmation: cap.RequiresConfirmation,
		})
	}
	return out
}
