package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const defaultHookTimeout = 30 * time.Second

// runHook executes one hook command with the payload piped to stdin as
// JSON. The configured timeout is enforced by killing the subprocess's
// process group; a timeout is recorded as a non-blocking failure. Spawn
// failures never propagate as errors, they yield a failed result with no
// decision.
func runHook(ctx context.Context, event Event, def Definition, payload Payload, logger zerolog.Logger) InvocationResult {
	res := InvocationResult{
		Command:           def.Command,
		Input:             payload,
		ContinueExecution: true,
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inputJSON, err := json.Marshal(payload)
	if err != nil {
		res.Stderr = fmt.Sprintf("marshal hook payload: %v", err)
		res.ExitCode = -1
		parseDecision(event, &res)
		return res
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", def.Command)
	cmd.Stdin = bytes.NewReader(inputJSON)
	setProcGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if runCtx.Err() != nil && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		res.Decision = DecisionNone
		res.Success = false
		logger.Warn().
			Str("command", def.Command).
			Dur("timeout", timeout).
			Msg("Hook timed out")
		return res
	}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else if runErr != nil {
		// Spawn failure
		res.ExitCode = -1
		if res.Stderr == "" {
			res.Stderr = runErr.Error()
		}
	}

	parseDecision(event, &res)

	logger.Debug().
		Str("event", string(event)).
		Str("command", def.Command).
		Int("exit_code", res.ExitCode).
		Str("decision", res.Decision.String()).
		Dur("duration", res.Duration).
		Msg("Hook executed")

	return res
}
