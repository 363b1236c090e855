// Package filesystem is the built-in local file tool. All operations are
// confined to a configured root directory and file reads are size-capped.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

const defaultMaxReadBytes = 1 << 20

// Config configures the filesystem tool.
type Config struct {
	// Root confines every operation to this directory tree. Required.
	Root string

	// MaxReadBytes caps read_file sizes. Zero uses 1 MiB.
	MaxReadBytes int64

	Logger *observability.Logger
}

// Tool implements toolsdk.Tool for local file access.
type Tool struct {
	manifest     *toolsdk.Manifest
	root         string
	maxReadBytes int64
	logger       *observability.Logger
}

// New creates the filesystem tool rooted at cfg.Root.
func New(cfg Config) (*Tool, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filesystem tool requires a root directory")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	maxRead := cfg.MaxReadBytes
	if maxRead <= 0 {
		maxRead = defaultMaxReadBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Tool{
		manifest:     newManifest(),
		root:         root,
		maxReadBytes: maxRead,
		logger:       logger,
	}, nil
}

func newManifest() *toolsdk.Manifest {
	pathParam := map[string]toolsdk.ParameterSpec{
		"path": {Type: "string", Required: true, Description: "Path relative to the tool root"},
	}
	return &toolsdk.Manifest{
		ToolID:      "filesystem",
		Name:        "FileSystem",
		Version:     "1.0.0",
		Category:    toolsdk.CategoryFilesystem,
		Description: "Sandboxed local file operations",
		Capabilities: []toolsdk.Capability{
			{
				Name:        "list_directory",
				DisplayName: "List directory",
				Description: "List files and directories under a path",
				Parameters: map[string]toolsdk.ParameterSpec{
					"path":      {Type: "string", Required: true, Description: "Path relative to the tool root"},
					"recursive": {Type: "boolean", Description: "Descend into subdirectories"},
				},
				Returns:   map[string]any{"files": "list", "total": "integer"},
				RiskLevel: models.RiskSafe,
			},
			{
				Name:        "read_file",
				DisplayName: "Read file",
				Description: "Read a text file's content",
				Parameters:  pathParam,
				Returns:     map[string]any{"content": "string", "size": "integer"},
				RiskLevel:   models.RiskSafe,
			},
			{
				Name:        "write_file",
				DisplayName: "Write file",
				Description: "Write or append to a file",
				Parameters: map[string]toolsdk.ParameterSpec{
					"path":    {Type: "string", Required: true, Description: "Path relative to the tool root"},
					"content": {Type: "string", Required: true, Description: "Content to write"},
					"append":  {Type: "boolean", Description: "Append instead of overwrite"},
				},
				Returns:   map[string]any{"path": "string", "size": "integer"},
				RiskLevel: models.RiskMedium,
			},
			{
				Name:                 "delete_file",
				DisplayName:          "Delete file",
				Description:          "Permanently delete a file or directory",
				Parameters:           pathParam,
				Returns:              map[string]any{"deleted": "boolean"},
				RiskLevel:            models.RiskHigh,
				RequiresConfirmation: true,
			},
			{
				Name:        "create_directory",
				DisplayName: "Create directory",
				Description: "Create a directory, including parents",
				Parameters:  pathParam,
				Returns:     map[string]any{"created": "boolean"},
				RiskLevel:   models.RiskSafe,
			},
			{
				Name:        "get_file_info",
				DisplayName: "File info",
				Description: "Read a file's metadata",
				Parameters:  pathParam,
				Returns:     map[string]any{"info": "object"},
				RiskLevel:   models.RiskSafe,
			},
		},
		AuthMethod: toolsdk.AuthNone,
		IsEnabled:  true,
		Tags:       []string{"filesystem", "local", "files"},
	}
}

// Manifest implements toolsdk.Tool.
func (t *Tool) Manifest() *toolsdk.Manifest { return t.manifest }

// Connect implements toolsdk.Tool. Local file access needs no credentials.
func (t *Tool) Connect(ctx context.Context, credentials map[string]any) error { return nil }

// Disconnect implements toolsdk.Tool.
func (t *Tool) Disconnect(ctx context.Context) error { return nil }

// TestConnection reports whether the root directory is accessible.
func (t *Tool) TestConnection(ctx context.Context) bool {
	info, err := os.Stat(t.root)
	return err == nil && info.IsDir()
}

// ValidateParameters checks the declared schema and confines the path to
// the root. Escapes are a validation error so the dispatcher rejects the
// plan before anything runs.
func (t *Tool) ValidateParameters(capability string, parameters map[string]any) error {
	if err := t.manifest.ValidateParameters(capability, parameters); err != nil {
		return err
	}
	if raw, ok := parameters["path"].(string); ok {
		if _, err := t.resolve(raw); err != nil {
			return toolsdk.NewParameterValidationError(t.manifest.ToolID, err.Error(), nil)
		}
	}
	return nil
}

// Invoke implements toolsdk.Tool.
func (t *Tool) Invoke(ctx context.Context, capability string, parameters map[string]any, execCtx toolsdk.ExecutionContext) (*models.ToolExecutionResult, error) {
	start := time.Now()

	data, err := t.dispatch(ctx, capability, parameters)

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

func (t *Tool) dispatch(ctx context.Context, capability string, parameters map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch capability {
	case "list_directory":
		return t.listDirectory(parameters)
	case "read_file":
		return t.readFile(parameters)
	case "write_file":
		return t.writeFile(ctx, parameters)
	case "delete_file":
		return t.deleteFile(ctx, parameters)
	case "create_directory":
		return t.createDirectory(parameters)
	case "get_file_info":
		return t.fileInfo(parameters)
	default:
		return nil, toolsdk.NewCapabilityNotFoundError(t.manifest.ToolID, capability)
	}
}

// resolve joins path onto the root and rejects escapes.
func (t *Tool) resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is empty")
	}
	joined := raw
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(t.root, joined)
	}
	clean := filepath.Clean(joined)
	if clean != t.root && !strings.HasPrefix(clean, t.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the allowed root", raw)
	}
	return clean, nil
}

func (t *Tool) listDirectory(parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}
	recursive, _ := parameters["recursive"].(bool)

	info, err := os.Stat(path)
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "directory not found", err)
	}
	if !info.IsDir() {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID,
			fmt.Sprintf("%q is not a directory", path), nil)
	}

	var files []map[string]any
	appendEntry := func(p string, info os.FileInfo) {
		kind := "file"
		var size int64
		if info.IsDir() {
			kind = "directory"
		} else {
			size = info.Size()
		}
		files = append(files, map[string]any{
			"name": info.Name(),
			"path": p,
			"type": kind,
			"size": size,
		})
	}

	if recursive {
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if p != path {
				appendEntry(p, info)
			}
			return nil
		})
		if err != nil {
			return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "walk failed", err)
		}
	} else {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "read directory failed", err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			appendEntry(filepath.Join(path, entry.Name()), info)
		}
	}

	return map[string]any{"files": files, "total": len(files)}, nil
}

func (t *Tool) readFile(parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "file not found", err)
	}
	if info.IsDir() {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID,
			fmt.Sprintf("%q is a directory", path), nil)
	}
	if info.Size() > t.maxReadBytes {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID,
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), t.maxReadBytes), nil)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "read failed", err)
	}
	return map[string]any{
		"content": string(content),
		"size":    info.Size(),
		"path":    path,
	}, nil
}

func (t *Tool) writeFile(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}
	content := stringParam(parameters, "content")
	append_, _ := parameters["append"].(bool)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "create parent directory failed", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if append_ {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "open failed", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "write failed", err)
	}

	t.logger.Info(ctx, "file written", "path", path, "bytes", len(content), "append", append_)
	return map[string]any{"path": path, "size": len(content)}, nil
}

func (t *Tool) deleteFile(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}
	if path == t.root {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "refusing to delete the root", nil)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "file not found", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "delete failed", err)
	}

	t.logger.Warn(ctx, "file deleted", "path", path)
	return map[string]any{"deleted": true, "path": path}, nil
}

func (t *Tool) createDirectory(parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "create directory failed", err)
	}
	return map[string]any{"created": true, "path": path}, nil
}

func (t *Tool) fileInfo(parameters map[string]any) (map[string]any, error) {
	path, err := t.resolve(stringParam(parameters, "path"))
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, err.Error(), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, toolsdk.NewExecutionError(t.manifest.ToolID, "file not found", err)
	}

	kind := "file"
	ext := filepath.Ext(path)
	if info.IsDir() {
		kind = "directory"
		ext = ""
	}
	return map[string]any{
		"name":      info.Name(),
		"path":      path,
		"type":      kind,
		"size":      info.Size(),
		"modified":  info.ModTime().Format(time.RFC3339),
		"extension": ext,
	}, nil
}

func stringParam(parameters map[string]any, key string) string {
	s, _ := parameters[key].(string)
	return s
}
