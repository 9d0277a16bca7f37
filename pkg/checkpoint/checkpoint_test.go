package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRestoreExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	b := NewBuilder(nil, zerolog.Nop())
	cp, err := b.Create("call-1", []string{path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("mutated"), 0o644))

	require.NoError(t, b.Restore(cp.ID))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestRestoreDeletesFilesCreatedAfterSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	b := NewBuilder(nil, zerolog.Nop())
	cp, err := b.Create("call-2", []string{path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("created"), 0o644))

	require.NoError(t, b.Restore(cp.ID))
	assert.NoFileExists(t, path)
}

type failingSnapshotter struct{}

func (failingSnapshotter) Snapshot(path string) ([]byte, error) {
	return nil, fmt.Errorf("vcs unavailable")
}

func TestCreateFailsWhenSnapshotFails(t *testing.T) {
	b := NewBuilder(failingSnapshotter{}, zerolog.Nop())
	_, err := b.Create("call-3", []string{"/anything"})
	require.Error(t, err)
}

func TestCreateRequiresPaths(t *testing.T) {
	b := NewBuilder(nil, zerolog.Nop())
	_, err := b.Create("call-4", nil)
	require.Error(t, err)
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	b := NewBuilder(nil, zerolog.Nop())
	err := b.Restore("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
