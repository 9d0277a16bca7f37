package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harun/enso/internal/observability"
)

// Pipeline fires lifecycle events against the configured hook groups and
// aggregates their decisions.
type Pipeline struct {
	logger   zerolog.Logger
	settings Settings
	disabled map[string]bool

	mu        sync.Mutex
	sessionID string
	cwd       string
}

// Config configures a Pipeline.
type Config struct {
	Settings  Settings
	SessionID string
	Cwd       string
	Logger    zerolog.Logger
}

// NewPipeline creates a hook pipeline.
func NewPipeline(cfg Config) *Pipeline {
	observability.EnsureRegistered()

	disabled := make(map[string]bool, len(cfg.Settings.DisabledCommands))
	for _, cmd := range cfg.Settings.DisabledCommands {
		disabled[cmd] = true
	}

	return &Pipeline{
		logger:    cfg.Logger.With().Str("component", "hooks").Logger(),
		settings:  cfg.Settings,
		disabled:  disabled,
		sessionID: cfg.SessionID,
		cwd:       cfg.Cwd,
	}
}

// Reload swaps in a new hook configuration. Fired events pick up the new
// groups on their next invocation.
func (p *Pipeline) Reload(settings Settings) {
	disabled := make(map[string]bool, len(settings.DisabledCommands))
	for _, cmd := range settings.DisabledCommands {
		disabled[cmd] = true
	}

	p.mu.Lock()
	p.settings = settings
	p.disabled = disabled
	p.mu.Unlock()

	p.logger.Info().Msg("Hook configuration reloaded")
}

// Fire runs every hook configured for the event whose group matcher equals
// the matcher key, the wildcard, or is absent. Disabled commands are skipped
// entirely, including from observability. Hooks in a sequential group run in
// declared order; hooks in other groups run concurrently, and Fire waits for
// all of them. Spawn and parse failures never abort sibling hooks.
func (p *Pipeline) Fire(ctx context.Context, event Event, matcherKey string, payload Payload) Outcome {
	p.mu.Lock()
	groups := p.settings.Groups[event]
	disabled := p.disabled
	defaultTimeout := p.settings.DefaultTimeout
	sessionID := p.sessionID
	cwd := p.cwd
	p.mu.Unlock()

	payload.SessionID = sessionID
	payload.Cwd = cwd
	payload.EventName = string(event)
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	// Flatten matching groups into an ordered run plan. Result order is
	// declaration order regardless of how a group executes.
	type slot struct {
		def        Definition
		sequential bool
		group      int
	}
	var plan []slot
	for gi, group := range groups {
		if !group.matches(matcherKey) {
			continue
		}
		for _, def := range group.Hooks {
			if def.Disabled || disabled[def.Command] {
				continue
			}
			if def.Timeout <= 0 && defaultTimeout > 0 {
				def.Timeout = defaultTimeout
			}
			plan = append(plan, slot{def: def, sequential: group.Sequential, group: gi})
		}
	}

	if len(plan) == 0 {
		return Outcome{}
	}

	results := make([]InvocationResult, len(plan))
	i := 0
	for i < len(plan) {
		if plan[i].sequential {
			results[i] = p.run(ctx, event, plan[i].def, payload)
			i++
			continue
		}

		// Launch the whole concurrent group, then wait for it before moving
		// to the next group. Hook runs never return errors, so the group
		// always drains fully.
		var g errgroup.Group
		groupID := plan[i].group
		for i < len(plan) && !plan[i].sequential && plan[i].group == groupID {
			idx, def := i, plan[i].def
			g.Go(func() error {
				results[idx] = p.run(ctx, event, def, payload)
				return nil
			})
			i++
		}
		_ = g.Wait()
	}

	outcome := aggregate(results)

	if outcome.Blocking {
		p.logger.Info().
			Str("event", string(event)).
			Str("matcher", matcherKey).
			Str("decision", outcome.Decision.String()).
			Bool("stop_execution", outcome.StopExecution).
			Str("reason", outcome.Reason).
			Msg("Hook outcome is blocking")
	}

	return outcome
}

func (p *Pipeline) run(ctx context.Context, event Event, def Definition, payload Payload) InvocationResult {
	res := runHook(ctx, event, def, payload, p.logger)
	observability.RecordHookRun(string(event), res.Decision.String(), res.Success, res.Duration)
	return res
}
