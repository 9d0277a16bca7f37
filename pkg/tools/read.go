package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const defaultReadLimit = 2000

// ReadFileTool reads a file from the filesystem with line numbering.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the filesystem. Returns line-numbered content." }

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line number to start reading from.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to read. Default: 2000.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) MutatesFiles() bool { return false }

func (t *ReadFileTool) AffectedPaths(args map[string]interface{}) []string { return nil }

func (t *ReadFileTool) Confirmation(args map[string]interface{}) *Confirmation { return nil }

func (t *ReadFileTool) Run(ctx context.Context, args map[string]interface{}, onOutput OutputFunc) (Result, error) {
	path := stringArg(args, "path")
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}

	offset := intArg(args, "offset")
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit")
	if limit <= 0 {
		limit = defaultReadLimit
	}

	lines := strings.Split(string(content), "\n")
	if offset > len(lines) {
		return Result{Content: ""}, nil
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}

	return Result{
		Content:   b.String(),
		Truncated: end < len(lines),
	}, nil
}
