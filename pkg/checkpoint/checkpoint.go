// Package checkpoint builds pre-execution restore points for tool calls
// that mutate files, so an approved-then-regretted change can be rolled
// back. Snapshots come from an external version-control collaborator.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshotter captures the current content of a file. Implemented by the
// version-control collaborator; FileSnapshotter is the plain-filesystem
// fallback.
type Snapshotter interface {
	Snapshot(path string) ([]byte, error)
}

// FileSnapshotter reads file content directly from disk.
type FileSnapshotter struct{}

// Snapshot returns the file's current bytes. A missing file snapshots as
// nil content, which restores to deletion.
func (FileSnapshotter) Snapshot(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return content, nil
}

// Checkpoint is a restore point for one tool call.
type Checkpoint struct {
	ID        string
	CallID    string
	CreatedAt time.Time
	// Files maps path to pre-execution content; nil content means the file
	// did not exist.
	Files map[string][]byte
}

// Builder creates and restores checkpoints.
type Builder struct {
	logger zerolog.Logger
	snap   Snapshotter

	mu    sync.Mutex
	store map[string]*Checkpoint
}

// NewBuilder creates a checkpoint builder over a snapshotter.
func NewBuilder(snap Snapshotter, logger zerolog.Logger) *Builder {
	if snap == nil {
		snap = FileSnapshotter{}
	}
	return &Builder{
		logger: logger.With().Str("component", "checkpoint").Logger(),
		snap:   snap,
		store:  make(map[string]*Checkpoint),
	}
}

// Create snapshots the given paths and stores a restore point for the call.
// A snapshot failure for any path fails the whole checkpoint; callers treat
// that as non-fatal and proceed without one.
func (b *Builder) Create(callID string, paths []string) (*Checkpoint, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to checkpoint")
	}

	cp := &Checkpoint{
		ID:        uuid.NewString(),
		CallID:    callID,
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string][]byte, len(paths)),
	}

	for _, path := range paths {
		content, err := b.snap.Snapshot(path)
		if err != nil {
			return nil, err
		}
		cp.Files[path] = content
	}

	b.mu.Lock()
	b.store[cp.ID] = cp
	b.mu.Unlock()

	b.logger.Debug().
		Str("checkpoint_id", cp.ID).
		Str("call_id", callID).
		Int("files", len(cp.Files)).
		Msg("Checkpoint created")

	return cp, nil
}

// Get returns a stored checkpoint.
func (b *Builder) Get(id string) (*Checkpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp, ok := b.store[id]
	return cp, ok
}

// Restore writes every snapshotted file back to its pre-execution state.
// Files that did not exist at snapshot time are removed.
func (b *Builder) Restore(id string) error {
	b.mu.Lock()
	cp, ok := b.store[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("checkpoint not found: %s", id)
	}

	for path, content := range cp.Files {
		if content == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create parent directory: %w", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
	}

	b.logger.Info().
		Str("checkpoint_id", id).
		Int("files", len(cp.Files)).
		Msg("Checkpoint restored")

	return nil
}
