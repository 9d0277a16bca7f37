package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool runs a shell command, streaming combined output as it appears.
type ShellTool struct {
	WorkDir string
	Timeout time.Duration
}

func (t *ShellTool) Name() string        { return "run_shell" }
func (t *ShellTool) Description() string { return "Run a shell command and return its combined output." }

func (t *ShellTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

// Shell commands may touch arbitrary paths, but the command string carries
// no reliable path argument, so no restore point is built for them.
func (t *ShellTool) MutatesFiles() bool { return false }

func (t *ShellTool) AffectedPaths(args map[string]interface{}) []string { return nil }

func (t *ShellTool) Confirmation(args map[string]interface{}) *Confirmation {
	command := stringArg(args, "command")
	return &Confirmation{
		Kind:    ConfirmExec,
		Title:   "Run shell command",
		Command: command,
	}
}

func (t *ShellTool) Run(ctx context.Context, args map[string]interface{}, onOutput OutputFunc) (Result, error) {
	command := stringArg(args, "command")
	if command == "" {
		return Result{}, fmt.Errorf("command is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start command: %w", err)
	}

	var b strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		b.WriteString(line)
		if onOutput != nil {
			onOutput(line)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		_ = cmd.Wait()
		return Result{Content: b.String(), IsError: true}, fmt.Errorf("read output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{Content: b.String(), IsError: true},
				fmt.Errorf("command timed out after %v", timeout)
		}
		return Result{
			Content: b.String() + fmt.Sprintf("\n(exit: %v)", err),
			IsError: true,
		}, nil
	}

	return Result{Content: b.String()}, nil
}
