package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating it and any parent directories if needed." }

func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) MutatesFiles() bool { return true }

func (t *WriteFileTool) AffectedPaths(args map[string]interface{}) []string {
	if path := stringArg(args, "path"); path != "" {
		return []string{path}
	}
	return nil
}

func (t *WriteFileTool) Confirmation(args map[string]interface{}) *Confirmation {
	path := stringArg(args, "path")
	return &Confirmation{
		Kind:       ConfirmEdit,
		Title:      fmt.Sprintf("Write %s", path),
		Path:       path,
		NewContent: stringArg(args, "content"),
	}
}

func (t *WriteFileTool) Run(ctx context.Context, args map[string]interface{}, onOutput OutputFunc) (Result, error) {
	path := stringArg(args, "path")
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	content := stringArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("create parent directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", path, err)
	}

	return Result{Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), path)}, nil
}
