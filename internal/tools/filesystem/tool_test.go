package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	root := t.TempDir()
	tool, err := New(Config{Root: root, MaxReadBytes: 1024})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tool, root
}

func invoke(t *testing.T, tool *Tool, capability string, params map[string]any) *models.ToolExecutionResult {
	t.Helper()
	result, err := tool.Invoke(context.Background(), capability, params, toolsdk.ExecutionContext{
		UserID: "tester",
		Source: toolsdk.SourceUserCommand,
	})
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	if result == nil {
		t.Fatal("Invoke returned nil result")
	}
	return result
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	tool, _ := newTestTool(t)

	res := invoke(t, tool, "write_file", map[string]any{
		"path":    "notes/todo.txt",
		"content": "buy milk",
	})
	if !res.Success {
		t.Fatalf("write failed: %q", res.Error)
	}

	res = invoke(t, tool, "read_file", map[string]any{"path": "notes/todo.txt"})
	if !res.Success {
		t.Fatalf("read failed: %q", res.Error)
	}
	if content, _ := res.Data["content"].(string); content != "buy milk" {
		t.Fatalf("content = %q", content)
	}
}

func TestWriteAppend(t *testing.T) {
	tool, _ := newTestTool(t)

	invoke(t, tool, "write_file", map[string]any{"path": "log.txt", "content": "one\n"})
	invoke(t, tool, "write_file", map[string]any{"path": "log.txt", "content": "two\n", "append": true})

	res := invoke(t, tool, "read_file", map[string]any{"path": "log.txt"})
	if content, _ := res.Data["content"].(string); content != "one\ntwo\n" {
		t.Fatalf("content = %q", content)
	}
}

func TestReadEnforcesSizeCap(t *testing.T) {
	tool, root := newTestTool(t)
	big := strings.Repeat("x", 2048)
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}

	res := invoke(t, tool, "read_file", map[string]any{"path": "big.txt"})
	if res.Success {
		t.Fatal("expected oversized read to fail")
	}
	if res.ErrorCode != string(toolsdk.CodeExecution) {
		t.Fatalf("error code = %q", res.ErrorCode)
	}
}

func TestValidateRejectsEscapes(t *testing.T) {
	tool, _ := newTestTool(t)

	escapes := []string{
		"../outside.txt",
		"notes/../../outside.txt",
		"/etc/passwd",
	}
	for _, path := range escapes {
		err := tool.ValidateParameters("read_file", map[string]any{"path": path})
		if err == nil {
			t.Errorf("expected %q to fail validation", path)
		}
	}
}

func TestValidateAllowsRelativePaths(t *testing.T) {
	tool, _ := newTestTool(t)

	if err := tool.ValidateParameters("read_file", map[string]any{"path": "a/b/c.txt"}); err != nil {
		t.Fatalf("expected relative path to validate: %v", err)
	}
}

func TestInvokeRejectsEscapes(t *testing.T) {
	tool, _ := newTestTool(t)

	res := invoke(t, tool, "read_file", map[string]any{"path": "../../etc/passwd"})
	if res.Success {
		t.Fatal("expected escape to fail at invoke time too")
	}
}

func TestListDirectory(t *testing.T) {
	tool, root := newTestTool(t)
	os.MkdirAll(filepath.Join(root, "sub"), 0o755)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0o644)

	res := invoke(t, tool, "list_directory", map[string]any{"path": "."})
	if !res.Success {
		t.Fatalf("list failed: %q", res.Error)
	}
	if total, _ := res.Data["total"].(int); total != 2 {
		t.Fatalf("shallow total = %v", res.Data["total"])
	}

	res = invoke(t, tool, "list_directory", map[string]any{"path": ".", "recursive": true})
	if total, _ := res.Data["total"].(int); total != 3 {
		t.Fatalf("recursive total = %v", res.Data["total"])
	}
}

func TestDeleteFile(t *testing.T) {
	tool, root := newTestTool(t)
	target := filepath.Join(root, "gone.txt")
	os.WriteFile(target, []byte("bye"), 0o644)

	res := invoke(t, tool, "delete_file", map[string]any{"path": "gone.txt"})
	if !res.Success {
		t.Fatalf("delete failed: %q", res.Error)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("file still exists after delete")
	}
}

func TestDeleteRefusesRoot(t *testing.T) {
	tool, root := newTestTool(t)

	res := invoke(t, tool, "delete_file", map[string]any{"path": root})
	if res.Success {
		t.Fatal("expected root delete to be refused")
	}
}

func TestDeleteCapabilityIsGated(t *testing.T) {
	tool, _ := newTestTool(t)

	cap := tool.Manifest().Capability("delete_file")
	if cap == nil {
		t.Fatal("delete_file capability missing")
	}
	if !cap.RequiresConfirmation || cap.RiskLevel != models.RiskHigh {
		t.Fatalf("delete_file gating wrong: confirm=%v risk=%v", cap.RequiresConfirmation, cap.RiskLevel)
	}
}

func TestCreateDirectoryAndInfo(t *testing.T) {
	tool, _ := newTestTool(t)

	res := invoke(t, tool, "create_directory", map[string]any{"path": "deep/nested/dir"})
	if !res.Success {
		t.Fatalf("create failed: %q", res.Error)
	}

	res = invoke(t, tool, "get_file_info", map[string]any{"path": "deep/nested/dir"})
	if !res.Success {
		t.Fatalf("info failed: %q", res.Error)
	}
	if kind, _ := res.Data["type"].(string); kind != "directory" {
		t.Fatalf("type = %q", kind)
	}
}

func TestReadMissingFile(t *testing.T) {
	tool, _ := newTestTool(t)

	res := invoke(t, tool, "read_file", map[string]any{"path": "nope.txt"})
	if res.Success {
		t.Fatal("expected missing file to fail")
	}
	if res.ErrorCode == "" {
		t.Fatal("expected an error code")
	}
}
