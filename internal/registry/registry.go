// Package registry manages the set of tools available to the planner.
// Tools are constructed by registered factories, validated against their
// manifests, and exposed to the LLM through an immutable capability catalog.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

// Factory constructs a tool instance. Factories are invoked at startup and
// again on reload, so they must be safe to call more than once.
type Factory func(ctx context.Context) (toolsdk.Tool, error)

// CatalogEntry describes one enabled tool in the LLM-facing catalog.
type CatalogEntry struct {
	ToolID       string                      `json:"tool_id"`
	DisplayName  string                      `json:"display_name"`
	Description  string                      `json:"description"`
	Category     toolsdk.Category            `json:"category"`
	Capabilities []toolsdk.CapabilitySummary `json:"capabilities"`
}

// entry pairs a live tool with its registration state.
type entry struct {
	tool     toolsdk.Tool
	manifest *toolsdk.Manifest
	enabled  bool
}

// Registry manages available tools with thread-safe registration and lookup.
//
// Mutations rebuild the catalog snapshot, so readers on the hot path
// (plan prompt construction) never take the registry lock.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*entry
	factories map[string]Factory

	catalog atomic.Pointer[[]CatalogEntry]

	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an empty registry. The logger is required; metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{
		tools:     make(map[string]*entry),
		factories: make(map[string]Factory),
		logger:    logger,
		metrics:   metrics,
	}
	empty := []CatalogEntry{}
	r.catalog.Store(&empty)
	return r
}

// RegisterFactory registers a tool constructor under the given ID.
// Discovery and reload both go through factories so tool code is bound at
// compile time rather than loaded dynamically.
func (r *Registry) RegisterFactory(id string, factory Factory) error {
	if !models.ValidIdentifier(id) {
		return fmt.Errorf("invalid tool id %q", id)
	}
	if factory == nil {
		return fmt.Errorf("nil factory for tool %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		r.logger.Warn(context.Background(), "replacing existing tool factory", "tool_id", id)
	}
	r.factories[id] = factory
	return nil
}

// DiscoverAndLoadAll constructs and registers every tool with a factory.
// A tool that fails to build or validate is skipped with a warning; the
// remaining tools still load.
func (r *Registry) DiscoverAndLoadAll(ctx context.Context) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	loaded := 0
	for _, id := range ids {
		if err := r.buildAndRegister(ctx, id); err != nil {
			r.logger.Warn(ctx, "failed to load tool", "tool_id", id, "error", err)
			if r.metrics != nil {
				r.metrics.RecordError("registry", "tool_load_failed")
			}
			continue
		}
		loaded++
	}
	r.logger.Info(ctx, "tool discovery complete", "loaded", loaded, "factories", len(ids))
	return loaded
}

func (r *Registry) buildAndRegister(ctx context.Context, id string) error {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no factory registered for tool %q", id)
	}

	tool, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("factory for %q: %w", id, err)
	}
	return r.RegisterTool(tool)
}

// RegisterTool validates a tool's manifest and adds it to the registry.
// If a tool with the same ID already exists, it is replaced with a warning.
// Catalog visibility follows the manifest's is_enabled flag and can be
// toggled later with SetEnabled.
func (r *Registry) RegisterTool(tool toolsdk.Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	manifest := tool.Manifest()
	if manifest == nil {
		return fmt.Errorf("tool returned nil manifest")
	}
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest for tool %q: %w", manifest.ToolID, err)
	}

	r.mu.Lock()
	if _, exists := r.tools[manifest.ToolID]; exists {
		r.logger.Warn(context.Background(), "replacing registered tool", "tool_id", manifest.ToolID)
	}
	r.tools[manifest.ToolID] = &entry{
		tool:     tool,
		manifest: manifest,
		enabled:  manifest.IsEnabled,
	}
	r.rebuildCatalogLocked()
	r.mu.Unlock()

	r.logger.Info(context.Background(), "tool registered",
		"tool_id", manifest.ToolID,
		"category", string(manifest.Category),
		"capabilities", len(manifest.Capabilities),
	)
	return nil
}

// UnregisterTool removes a tool. Returns false if no such tool exists.
func (r *Registry) UnregisterTool(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[id]; !ok {
		return false
	}
	delete(r.tools, id)
	r.rebuildCatalogLocked()
	return true
}

// GetTool returns the tool with the given ID, or nil if absent.
func (r *Registry) GetTool(id string) toolsdk.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[id]; ok {
		return e.tool
	}
	return nil
}

// GetEnabledTool returns the tool with the given ID, or nil if absent or
// disabled. Plan validation resolves through this so disabled tools are
// rejected the same way missing ones are.
func (r *Registry) GetEnabledTool(id string) toolsdk.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[id]; ok && e.enabled {
		return e.tool
	}
	return nil
}

// IsEnabled reports whether the tool exists and is enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	return ok && e.enabled
}

// GetManifest returns the manifest for the given tool ID, or nil if absent.
func (r *Registry) GetManifest(id string) *toolsdk.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[id]; ok {
		return e.manifest
	}
	return nil
}

// HasCapability reports whether the given tool exposes the named capability.
func (r *Registry) HasCapability(toolID, capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[toolID]
	if !ok {
		return false
	}
	return e.manifest.Capability(capability) != nil
}

// ListTools returns the manifests of registered tools, sorted by ID.
// A non-empty category filters by tool category; enabledOnly excludes
// disabled tools.
func (r *Registry) ListTools(category toolsdk.Category, enabledOnly bool) []*toolsdk.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifests := make([]*toolsdk.Manifest, 0, len(r.tools))
	for _, e := range r.tools {
		if enabledOnly && !e.enabled {
			continue
		}
		if category != "" && e.manifest.Category != category {
			continue
		}
		manifests = append(manifests, e.manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].ToolID < manifests[j].ToolID
	})
	return manifests
}

// SetEnabled toggles a tool's visibility in the LLM catalog without
// unregistering it. Returns false if no such tool exists.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[id]
	if !ok {
		return false
	}
	e.enabled = enabled
	r.rebuildCatalogLocked()
	return true
}

// ReloadTool rebuilds the tool from its factory. The new instance is
// constructed and validated before the old one is replaced, so a failed
// reload never leaves the tool unregistered.
func (r *Registry) ReloadTool(ctx context.Context, id string) error {
	r.mu.RLock()
	factory, hadFactory := r.factories[id]
	r.mu.RUnlock()
	if !hadFactory {
		return fmt.Errorf("no factory registered for tool %q", id)
	}

	tool, err := factory(ctx)
	if err != nil {
		err = fmt.Errorf("factory for %q: %w", id, err)
	} else {
		err = r.RegisterTool(tool)
	}
	if err != nil {
		r.logger.Error(ctx, "tool reload failed, previous instance retained", "tool_id", id, "error", err)
		if r.metrics != nil {
			r.metrics.RecordError("registry", "tool_reload_failed")
		}
		return err
	}
	r.logger.Info(ctx, "tool reloaded", "tool_id", id)
	return nil
}

// CatalogForLLM returns the capability catalog of enabled tools. The
// returned slice is an immutable snapshot; callers must not modify it.
func (r *Registry) CatalogForLLM() []CatalogEntry {
	return *r.catalog.Load()
}

// Count returns the number of registered tools (enabled and disabled).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// rebuildCatalogLocked regenerates the catalog snapshot. Callers must hold
// the write lock.
func (r *Registry) rebuildCatalogLocked() {
	catalog := make([]CatalogEntry, 0, len(r.tools))
	enabled := 0
	for _, e := range r.tools {
		if !e.enabled {
			continue
		}
		enabled++
		catalog = append(catalog, CatalogEntry{
			ToolID:       e.manifest.ToolID,
			DisplayName:  e.manifest.Name,
			Description:  e.manifest.Description,
			Category:     e.manifest.Category,
			Capabilities: e.manifest.CapabilitySummaries(),
		})
	}
	sort.Slice(catalog, func(i, j int) bool {
		return catalog[i].ToolID < catalog[j].ToolID
	})
	r.catalog.Store(&catalog)

	if r.metrics != nil {
		r.metrics.SetRegisteredTools(enabled)
	}
}

// DisconnectAll disconnects every registered tool, collecting errors.
// Used during shutdown.
func (r *Registry) DisconnectAll(ctx context.Context) []error {
	r.mu.RLock()
	tools := make([]toolsdk.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	r.mu.RUnlock()

	var errs []error
	for _, t := range tools {
		if err := t.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
