package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/harun/enso/internal/config"
	"github.com/harun/enso/pkg/orchestrator"
	"github.com/harun/enso/pkg/scheduler"
)

var (
	runSessionID string
	runYolo      bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run the agent",
	Long: `Run the agent. With a prompt argument the agent answers it and exits;
without one an interactive session starts. Tool calls that need approval
are confirmed on the terminal unless --yolo is set.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session ID to resume (default: new session)")
	runCmd.Flags().BoolVar(&runYolo, "yolo", false, "auto-approve every tool call")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if runYolo {
		cfg.Tools.ApprovalMode = "yolo"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	eng, err := buildEngine(ctx, cmd, loader, cfg, runSessionID)
	if err != nil {
		return err
	}
	defer eng.Close()

	if len(args) > 0 {
		return eng.runPrompt(ctx, strings.Join(args, " "))
	}

	eng.printf("enso %s, session %s (ctrl-d to exit)\n", version, eng.sess.ID)
	for {
		eng.printf("> ")
		line, err := eng.stdin.ReadString('\n')
		if err != nil {
			eng.printf("\n")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if err := eng.runPrompt(ctx, line); err != nil {
			if errors.Is(err, orchestrator.ErrMaxSessionTurns) {
				eng.printf("session turn limit reached\n")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
}

// runPrompt drives one user prompt to completion, feeding paused tool-call
// batches through the scheduler and back into the orchestrator.
func (e *engine) runPrompt(ctx context.Context, text string) error {
	promptID, err := gonanoid.New()
	if err != nil {
		return err
	}

	res, err := e.orch.Prompt(ctx, promptID, text)
	for err == nil && res.Kind == orchestrator.ResultToolCalls {
		res, err = e.dispatchTools(ctx, promptID, res.PendingCalls)
	}
	if err != nil {
		return err
	}

	switch res.Kind {
	case orchestrator.ResultFinished:
		e.printf("\n")
	case orchestrator.ResultBlocked:
		e.printf("\nblocked: %s\n", res.Reason)
	case orchestrator.ResultStopped:
		e.printf("\nstopped: %s\n", res.Reason)
	case orchestrator.ResultOverflow:
		e.printf("\ncontext window exhausted, start a new session or raise the token limit\n")
	case orchestrator.ResultLoopDetected:
		e.printf("\nrepetition loop detected, turn aborted\n")
	case orchestrator.ResultCancelled:
		e.printf("\ncancelled\n")
	}
	return nil
}

func (e *engine) dispatchTools(ctx context.Context, promptID string, calls []scheduler.Request) (orchestrator.Result, error) {
	if err := e.sched.Schedule(ctx, calls); err != nil && !errors.Is(err, scheduler.ErrStopped) {
		return orchestrator.Result{}, err
	}
	if err := e.sched.Wait(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Tool batch ended early")
	}

	responses := e.sched.Responses()
	reason, stopped := e.sched.Stopped()
	if err := e.sched.Reset(); err != nil {
		return orchestrator.Result{}, err
	}

	// A hook that stops execution ends the prompt; the model does not see
	// the cancelled batch, and the paused run state is torn down.
	if stopped {
		return e.orch.AbortPrompt(promptID, reason), nil
	}

	return e.orch.ContinueWithToolResults(ctx, promptID, responses)
}
