package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/harun/enso/internal/config"
	"github.com/harun/enso/internal/logger"
	"github.com/harun/enso/internal/observability"
	"github.com/harun/enso/pkg/checkpoint"
	"github.com/harun/enso/pkg/hooks"
	"github.com/harun/enso/pkg/model"
	"github.com/harun/enso/pkg/orchestrator"
	"github.com/harun/enso/pkg/scheduler"
	"github.com/harun/enso/pkg/session"
	"github.com/harun/enso/pkg/tools"
)

// engine wires configuration, hooks, tools, scheduler, and orchestrator into
// one running agent. It owns every long-lived component and tears them down
// in Close.
type engine struct {
	cfg      *config.Config
	log      *logger.Logger
	pipeline *hooks.Pipeline
	registry *tools.Registry
	sched    *scheduler.Scheduler
	orch     *orchestrator.Orchestrator
	sess     *session.Session
	store    *session.Store
	sweeper  *session.Sweeper
	watcher  *config.Watcher
	metrics  *http.Server

	out   *cobra.Command
	stdin *bufio.Reader
	// stdinMu serializes confirmation prompts; tool calls in one batch can
	// reach awaiting_approval concurrently.
	stdinMu sync.Mutex
}

func buildEngine(ctx context.Context, cmd *cobra.Command, loader *config.Loader, cfg *config.Config, sessionID string) (*engine, error) {
	e := &engine{
		cfg:   cfg,
		out:   cmd,
		stdin: bufio.NewReader(cmd.InOrStdin()),
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	e.log = lg
	zl := lg.GetZerolog()

	e.sess = session.New(sessionID)

	e.store, err = session.OpenStore(cfg.Session.StorePath, zl)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if sessionID != "" {
		history, err := e.store.LoadHistory(ctx, e.sess.ID)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		e.sess.ReplaceHistory(history)
	}

	e.sweeper, err = session.NewSweeper(e.store, cfg.Session.Retention, cfg.Session.SweepSchedule, zl)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init session sweeper: %w", err)
	}
	e.sweeper.Start()

	e.pipeline = hooks.NewPipeline(hooks.Config{
		Settings:  cfg.Hooks.Settings,
		SessionID: e.sess.ID,
		Cwd:       cfg.Tools.WorkDir,
		Logger:    zl,
	})

	if cfg.Hooks.WatchConfig {
		e.watcher, err = config.NewWatcher(loader, func(fresh *config.Config) {
			e.pipeline.Reload(fresh.Hooks.Settings)
		}, zl)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("watch config: %w", err)
		}
	}

	e.registry = tools.NewRegistry(zl)
	for _, tool := range []tools.Tool{
		&tools.ReadFileTool{},
		&tools.WriteFileTool{},
		&tools.ShellTool{WorkDir: cfg.Tools.WorkDir, Timeout: cfg.Tools.ShellTimeout},
	} {
		if err := e.registry.Register(tool); err != nil {
			e.Close()
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	var checkpoints *checkpoint.Builder
	if cfg.Tools.Checkpoints {
		checkpoints = checkpoint.NewBuilder(checkpoint.FileSnapshotter{}, zl)
	}

	mode := scheduler.ApprovalDefault
	if cfg.Tools.ApprovalMode == "yolo" {
		mode = scheduler.ApprovalYOLO
	}

	e.sched, err = scheduler.New(scheduler.Config{
		Registry:    e.registry,
		Hooks:       e.pipeline,
		Checkpoints: checkpoints,
		Mode:        mode,
		Logger:      zl,
		OnEvent:     e.onSchedulerEvent,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	modelConfigs := make([]model.Config, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		modelConfigs = append(modelConfigs, model.Config{
			Provider:    m.Provider,
			Model:       m.Model,
			APIKey:      m.APIKey,
			TokenLimit:  m.TokenLimit,
			MaxRetries:  m.MaxRetries,
			Temperature: m.Temperature,
		})
	}
	client, err := model.NewClient(modelConfigs[0])
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init model client: %w", err)
	}

	e.orch, err = orchestrator.New(orchestrator.Config{
		Models:                  modelConfigs,
		Client:                  client,
		Hooks:                   e.pipeline,
		Session:                 e.sess,
		Store:                   e.store,
		Tools:                   e.registry.Specs(nil),
		SystemPrompt:            cfg.Agent.SystemPrompt,
		TurnBudget:              cfg.Agent.TurnBudget,
		MaxSessionTurns:         cfg.Agent.MaxSessionTurns,
		CompressionThreshold:    cfg.Agent.CompressionThreshold,
		TolerateFailedCalls:     cfg.Agent.TolerateFailedCalls,
		ClearHistoryOnAgentStop: cfg.Agent.ClearHistoryOnAgentStop,
		Logger:                  zl,
		OnEvent:                 e.onOrchestratorEvent,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	if cfg.Metrics.Enabled {
		observability.EnsureRegistered()
		e.metrics = &http.Server{Addr: cfg.Metrics.Listen, Handler: observability.MetricsHandler()}
		go func() {
			if err := e.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Warn().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	startOutcome := e.pipeline.Fire(ctx, hooks.SessionStart, hooks.MatchAll, hooks.Payload{Source: "startup"})
	for _, msg := range startOutcome.SystemMessages {
		e.printf("[system] %s\n", msg)
	}
	if startOutcome.AdditionalContext != "" {
		// Session-start context seeds the conversation before the first
		// prompt.
		e.sess.Append(model.Message{Role: model.RoleSystem, Content: startOutcome.AdditionalContext})
	}

	return e, nil
}

// Close tears down whatever buildEngine managed to construct.
func (e *engine) Close() {
	if e.pipeline != nil {
		e.pipeline.Fire(context.Background(), hooks.SessionEnd, hooks.MatchAll, hooks.Payload{Reason: "shutdown"})
	}
	if e.metrics != nil {
		e.metrics.Close()
	}
	if e.watcher != nil {
		e.watcher.Close()
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
}

func (e *engine) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.out.OutOrStdout(), format, args...)
}

func (e *engine) onOrchestratorEvent(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventText:
		e.printf("%s", ev.Text)
	case orchestrator.EventSystemMessage:
		e.printf("\n[system] %s\n", ev.Text)
	case orchestrator.EventCompressed:
		e.printf("\n[history compressed]\n")
	}
}

func (e *engine) onSchedulerEvent(ev scheduler.Event) {
	switch {
	case ev.Confirmation != nil:
		e.confirm(ev)
	case ev.OutputChunk != "":
		e.printf("%s", ev.OutputChunk)
	case ev.Status == scheduler.StatusExecuting:
		e.printf("\n[%s]\n", ev.Tool)
	}
}

// confirm renders a pending confirmation on the terminal and resolves it
// from user input.
func (e *engine) confirm(ev scheduler.Event) {
	e.stdinMu.Lock()
	defer e.stdinMu.Unlock()

	c := ev.Confirmation
	e.pipeline.Fire(context.Background(), hooks.Notification, hooks.MatchAll, hooks.Payload{
		NotificationType: "tool_approval",
		Message:          c.Title,
		ToolName:         ev.Tool,
	})

	e.printf("\n%s\n", c.Title)
	if c.Command != "" {
		e.printf("  $ %s\n", c.Command)
	}
	if c.Path != "" {
		e.printf("  %s\n", c.Path)
	}
	if c.Description != "" {
		e.printf("  %s\n", c.Description)
	}

	for {
		e.printf("Approve? [y]es / [a]lways for this tool / [n]o: ")
		line, err := e.stdin.ReadString('\n')
		if err != nil {
			e.resolve(scheduler.Resolution{CallID: ev.CallID, Kind: scheduler.Cancel, Reason: "input closed"})
			return
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			e.resolve(scheduler.Resolution{CallID: ev.CallID, Kind: scheduler.ProceedOnce})
			return
		case "a", "always":
			e.resolve(scheduler.Resolution{CallID: ev.CallID, Kind: scheduler.ProceedAlwaysTool})
			return
		case "n", "no":
			e.resolve(scheduler.Resolution{CallID: ev.CallID, Kind: scheduler.Cancel, Reason: "denied by user"})
			return
		}
	}
}

func (e *engine) resolve(r scheduler.Resolution) {
	if err := e.sched.Resolve(r); err != nil {
		e.log.Warn().Err(err).Str("call_id", r.CallID).Msg("Failed to resolve confirmation")
	}
}
