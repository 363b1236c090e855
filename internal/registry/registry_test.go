package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

// fakeTool is a minimal tool implementation for registry tests.
type fakeTool struct {
	manifest     *toolsdk.Manifest
	invoked      int
	disconnected bool
}

func (f *fakeTool) Manifest() *toolsdk.Manifest { return f.manifest }

func (f *fakeTool) Connect(ctx context.Context, credentials map[string]any) error { return nil }

func (f *fakeTool) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return nil
}

func (f *fakeTool) TestConnection(ctx context.Context) bool { return true }

func (f *fakeTool) ValidateParameters(capability string, parameters map[string]any) error {
	return nil
}

func (f *fakeTool) Invoke(ctx context.Context, capability string, parameters map[string]any, execCtx toolsdk.ExecutionContext) (*models.ToolExecutionResult, error) {
	f.invoked++
	return &models.ToolExecutionResult{Success: true, ToolID: f.manifest.ToolID, CapabilityName: capability}, nil
}

func newFakeTool(id string, capabilities ...string) *fakeTool {
	if len(capabilities) == 0 {
		capabilities = []string{"do_thing"}
	}
	caps := make([]toolsdk.Capability, 0, len(capabilities))
	for _, name := range capabilities {
		caps = append(caps, toolsdk.Capability{
			Name:        name,
			Description: "test capability",
			RiskLevel:   models.RiskLow,
		})
	}
	return &fakeTool{
		manifest: &toolsdk.Manifest{
			ToolID:       id,
			Name:         "Test " + id,
			Version:      "1.0.0",
			Category:     toolsdk.CategorySystem,
			Capabilities: caps,
			AuthMethod:   toolsdk.AuthNone,
			IsEnabled:    true,
		},
	}
}

func newTestRegistry() *Registry {
	return New(observability.NewNopLogger(), nil)
}

func TestRegisterAndGetTool(t *testing.T) {
	r := newTestRegistry()
	tool := newFakeTool("echo")

	if err := r.RegisterTool(tool); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}

	if got := r.GetTool("echo"); got == nil {
		t.Fatal("expected registered tool, got nil")
	}
	if got := r.GetTool("missing"); got != nil {
		t.Fatal("expected nil for unknown tool")
	}
	if m := r.GetManifest("echo"); m == nil || m.ToolID != "echo" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegisterInvalidManifest(t *testing.T) {
	r := newTestRegistry()

	tool := newFakeTool("bad tool id") // spaces are invalid
	if err := r.RegisterTool(tool); err == nil {
		t.Fatal("expected error for invalid tool id")
	}

	noCaps := newFakeTool("empty")
	noCaps.manifest.Capabilities = nil
	if err := r.RegisterTool(noCaps); err == nil {
		t.Fatal("expected error for manifest without capabilities")
	}

	if r.Count() != 0 {
		t.Errorf("expected no tools registered, got %d", r.Count())
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := newTestRegistry()

	first := newFakeTool("echo", "one")
	second := newFakeTool("echo", "two")

	if err := r.RegisterTool(first); err != nil {
		t.Fatalf("RegisterTool(first): %v", err)
	}
	if err := r.RegisterTool(second); err != nil {
		t.Fatalf("RegisterTool(second): %v", err)
	}

	if r.Count() != 1 {
		t.Fatalf("expected 1 tool after replacement, got %d", r.Count())
	}
	m := r.GetManifest("echo")
	if m.Capability("two") == nil {
		t.Error("expected replacement tool's capability")
	}
	if m.Capability("one") != nil {
		t.Error("old tool's capability should be gone")
	}
}

func TestUnregisterTool(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterTool(newFakeTool("echo")); err != nil {
		t.Fatal(err)
	}

	if !r.UnregisterTool("echo") {
		t.Error("expected true when unregistering existing tool")
	}
	if r.UnregisterTool("echo") {
		t.Error("expected false when unregistering absent tool")
	}
	if r.GetTool("echo") != nil {
		t.Error("tool should be gone")
	}
}

func TestGetEnabledTool(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterTool(newFakeTool("fs")); err != nil {
		t.Fatal(err)
	}

	if r.GetEnabledTool("fs") == nil {
		t.Fatal("expected enabled tool to resolve")
	}
	if !r.IsEnabled("fs") {
		t.Error("expected fs enabled")
	}

	if !r.SetEnabled("fs", false) {
		t.Fatal("SetEnabled returned false")
	}
	// A disabled tool stays loaded but is invisible to enabled-only lookups
	if r.GetEnabledTool("fs") != nil {
		t.Error("disabled tool must not resolve through GetEnabledTool")
	}
	if r.IsEnabled("fs") {
		t.Error("expected fs disabled")
	}
	if r.GetTool("fs") == nil {
		t.Error("disabled tool should still be loaded")
	}
	if r.GetEnabledTool("missing") != nil {
		t.Error("expected nil for unknown tool")
	}
}

func TestHasCapability(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterTool(newFakeTool("fs", "read_file", "write_file")); err != nil {
		t.Fatal(err)
	}

	if !r.HasCapability("fs", "read_file") {
		t.Error("expected capability to exist")
	}
	if r.HasCapability("fs", "delete_everything") {
		t.Error("unexpected capability")
	}
	if r.HasCapability("missing", "read_file") {
		t.Error("unknown tool should have no capabilities")
	}
}

func TestListTools(t *testing.T) {
	r := newTestRegistry()

	fs := newFakeTool("fs")
	fs.manifest.Category = toolsdk.CategoryFilesystem
	sys := newFakeTool("sys")
	sys.manifest.Category = toolsdk.CategorySystem
	disabled := newFakeTool("ghost")
	disabled.manifest.Category = toolsdk.CategorySystem
	disabled.manifest.IsEnabled = false

	for _, tool := range []*fakeTool{sys, fs, disabled} {
		if err := r.RegisterTool(tool); err != nil {
			t.Fatal(err)
		}
	}

	all := r.ListTools("", false)
	if len(all) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(all))
	}
	// Sorted by ID
	if all[0].ToolID != "fs" || all[1].ToolID != "ghost" || all[2].ToolID != "sys" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].ToolID, all[1].ToolID, all[2].ToolID)
	}

	enabled := r.ListTools("", true)
	if len(enabled) != 2 {
		t.Errorf("expected 2 enabled tools, got %d", len(enabled))
	}

	systems := r.ListTools(toolsdk.CategorySystem, false)
	if len(systems) != 2 {
		t.Errorf("expected 2 system tools, got %d", len(systems))
	}
}

func TestCatalogForLLM(t *testing.T) {
	r := newTestRegistry()

	if got := r.CatalogForLLM(); len(got) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(got))
	}

	if err := r.RegisterTool(newFakeTool("fs", "read_file")); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterTool(newFakeTool("sys", "execute_command")); err != nil {
		t.Fatal(err)
	}

	catalog := r.CatalogForLLM()
	if len(catalog) != 2 {
		t.Fatalf("expected 2 catalog entries, got %d", len(catalog))
	}
	if catalog[0].ToolID != "fs" || catalog[1].ToolID != "sys" {
		t.Errorf("unexpected catalog order: %s, %s", catalog[0].ToolID, catalog[1].ToolID)
	}
	if len(catalog[0].Capabilities) != 1 || catalog[0].Capabilities[0].Name != "read_file" {
		t.Errorf("unexpected capabilities: %+v", catalog[0].Capabilities)
	}

	// Disabling a tool removes it from the snapshot
	if !r.SetEnabled("sys", false) {
		t.Fatal("SetEnabled returned false")
	}
	catalog = r.CatalogForLLM()
	if len(catalog) != 1 || catalog[0].ToolID != "fs" {
		t.Errorf("expected only fs in catalog, got %+v", catalog)
	}
}

func TestCatalogSnapshotIsStable(t *testing.T) {
	r := newTestRegistry()
	if err := r.RegisterTool(newFakeTool("fs")); err != nil {
		t.Fatal(err)
	}

	before := r.CatalogForLLM()
	if err := r.RegisterTool(newFakeTool("sys")); err != nil {
		t.Fatal(err)
	}

	// Snapshot taken before the mutation is unchanged
	if len(before) != 1 {
		t.Errorf("expected old snapshot to keep 1 entry, got %d", len(before))
	}
	if len(r.CatalogForLLM()) != 2 {
		t.Errorf("expected new snapshot with 2 entries")
	}
}

func TestDiscoverAndLoadAll(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if err := r.RegisterFactory("fs", func(ctx context.Context) (toolsdk.Tool, error) {
		return newFakeTool("fs"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterFactory("broken", func(ctx context.Context) (toolsdk.Tool, error) {
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}

	loaded := r.DiscoverAndLoadAll(ctx)
	if loaded != 1 {
		t.Errorf("expected 1 tool loaded, got %d", loaded)
	}
	if r.GetTool("fs") == nil {
		t.Error("expected fs tool registered")
	}
	if r.GetTool("broken") != nil {
		t.Error("broken tool must not be registered")
	}
}

func TestRegisterFactoryInvalidID(t *testing.T) {
	r := newTestRegistry()
	err := r.RegisterFactory("not valid!", func(ctx context.Context) (toolsdk.Tool, error) {
		return newFakeTool("x"), nil
	})
	if err == nil {
		t.Fatal("expected error for invalid factory id")
	}
	if r.RegisterFactory("nilfactory", nil) == nil {
		t.Fatal("expected error for nil factory")
	}
}

func TestReloadTool(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	version := 0
	if err := r.RegisterFactory("fs", func(ctx context.Context) (toolsdk.Tool, error) {
		version++
		tool := newFakeTool("fs")
		tool.manifest.Version = fmt.Sprintf("1.0.%d", version)
		return tool, nil
	}); err != nil {
		t.Fatal(err)
	}

	if r.DiscoverAndLoadAll(ctx) != 1 {
		t.Fatal("expected initial load")
	}
	if got := r.GetManifest("fs").Version; got != "1.0.1" {
		t.Fatalf("unexpected initial version %q", got)
	}

	if err := r.ReloadTool(ctx, "fs"); err != nil {
		t.Fatalf("ReloadTool() error: %v", err)
	}
	if got := r.GetManifest("fs").Version; got != "1.0.2" {
		t.Errorf("expected reloaded version 1.0.2, got %q", got)
	}
}

func TestReloadToolFailsClosed(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	calls := 0
	if err := r.RegisterFactory("fs", func(ctx context.Context) (toolsdk.Tool, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("rebuild failed")
		}
		return newFakeTool("fs"), nil
	}); err != nil {
		t.Fatal(err)
	}

	if r.DiscoverAndLoadAll(ctx) != 1 {
		t.Fatal("expected initial load")
	}

	if err := r.ReloadTool(ctx, "fs"); err == nil {
		t.Fatal("expected reload error")
	}
	// A failed reload must never leave the tool unregistered; the old
	// instance keeps serving until a rebuild succeeds.
	if r.GetTool("fs") == nil {
		t.Error("expected old instance retained after failed reload")
	}
	catalog := r.CatalogForLLM()
	if len(catalog) != 1 || catalog[0].ToolID != "fs" {
		t.Errorf("expected fs still in catalog after failed reload, got %+v", catalog)
	}
}

func TestReloadUnknownTool(t *testing.T) {
	r := newTestRegistry()
	if err := r.ReloadTool(context.Background(), "nope"); err == nil {
		t.Fatal("expected error reloading unknown tool")
	}
}

func TestDisconnectAll(t *testing.T) {
	r := newTestRegistry()
	fs := newFakeTool("fs")
	sys := newFakeTool("sys")
	for _, tool := range []*fakeTool{fs, sys} {
		if err := r.RegisterTool(tool); err != nil {
			t.Fatal(err)
		}
	}

	if errs := r.DisconnectAll(context.Background()); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !fs.disconnected || !sys.disconnected {
		t.Error("expected all tools disconnected")
	}
}
