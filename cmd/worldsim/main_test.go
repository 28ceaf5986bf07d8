package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/demesne/internal/persistence"
	"github.com/talgya/demesne/internal/persistence/snapshot"
)

func writeTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worldsim.yaml")
	body := fmt.Sprintf(`db_path: %q
world:
  seed: 42
  nations: 2
  provinces_per_nation: 2
  min_communities: 1
  max_communities: 3
`, dbPath)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lastYear(t *testing.T, dbPath string) uint64 {
	t.Helper()
	db, err := persistence.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	year, err := db.LastYear()
	require.NoError(t, err)
	return year
}

func TestStepGeneratesThenAdvances(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "world.db")
	cfg := writeTestConfig(t, dbPath)

	out, err := run(t, "--config", cfg, "step", "--years", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Year 3")
	assert.Equal(t, uint64(3), lastYear(t, dbPath))

	// A second run resumes rather than regenerating.
	_, err = run(t, "--config", cfg, "step", "--years", "2")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), lastYear(t, dbPath))

	_, err = run(t, "--config", cfg, "step", "--years", "0")
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	dir := t.TempDir()
	srcDB := filepath.Join(dir, "src.db")
	dstDB := filepath.Join(dir, "dst.db")
	snapPath := filepath.Join(dir, "out", "world.snap.zst")

	_, err := run(t, "--config", writeTestConfig(t, srcDB), "step", "--years", "4")
	require.NoError(t, err)

	_, err = run(t, "--config", writeTestConfig(t, srcDB), "export", "--out", snapPath)
	require.NoError(t, err)
	h, err := snapshot.ReadHeader(snapPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), h.Year)

	dstCfg := writeTestConfig(t, dstDB)
	out, err := run(t, "--config", dstCfg, "import", "--in", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Year 4")
	assert.Equal(t, uint64(4), lastYear(t, dstDB))

	// Refuses to overwrite without --force.
	_, err = run(t, "--config", dstCfg, "import", "--in", snapPath)
	assert.Error(t, err)
	_, err = run(t, "--config", dstCfg, "import", "--in", snapPath, "--force")
	require.NoError(t, err)

	db, err := persistence.Open(dstDB)
	require.NoError(t, err)
	defer db.Close()
	id, err := db.GetMeta("world_id")
	require.NoError(t, err)
	assert.Equal(t, h.WorldID.String(), id)
}

func TestImportRejectsNewerSnapshotVersion(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "future.snap.zst")
	require.NoError(t, snapshot.WriteSnapshot(snapPath, snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version + 1, WorldID: uuid.New(), Year: 9},
	}))

	dstDB := filepath.Join(dir, "dst.db")
	_, err := run(t, "--config", writeTestConfig(t, dstDB), "import", "--in", snapPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	// The header is checked before the database is touched.
	_, statErr := os.Stat(dstDB)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportWithoutWorld(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, filepath.Join(dir, "empty.db"))
	_, err := run(t, "--config", cfg, "export", "--out", filepath.Join(dir, "x.snap.zst"))
	assert.ErrorIs(t, err, errNoWorld)
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "step")
	assert.Error(t, err)
}
