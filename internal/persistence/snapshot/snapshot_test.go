package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/social"
	"github.com/talgya/demesne/internal/world"
)

func testSim(t *testing.T) *engine.Simulation {
	t.Helper()
	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	sim := engine.NewSimulation(reg)
	for y := uint64(1); y <= 3; y++ {
		sim.TickYear(y)
	}
	sim.EmitEvent(engine.Event{Year: 3, Description: "Bells ring in every valley", Category: "omen"})
	return sim
}

func TestWriteReadRoundTrip(t *testing.T) {
	sim := testSim(t)
	id := uuid.New()
	path := filepath.Join(t.TempDir(), "nested", "world.snap.zst")

	snap := Capture(sim, id, 42)
	require.NoError(t, WriteSnapshot(path, snap))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, id, h.WorldID)
	assert.Equal(t, uint64(3), h.Year)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestRestore(t *testing.T) {
	sim := testSim(t)
	snap := Capture(sim, uuid.New(), 42)

	restored, err := Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, sim.CurrentYear(), restored.CurrentYear())
	assert.Equal(t, len(sim.RecentEvents(1000, "")), len(restored.RecentEvents(1000, "")))

	var wantPop, gotPop uint64
	var wantCommunities, gotCommunities int
	sim.View(func(reg *social.Registry) {
		wantPop = reg.TotalPopulation()
		wantCommunities = reg.CommunityCount()
	})
	restored.View(func(reg *social.Registry) {
		gotPop = reg.TotalPopulation()
		gotCommunities = reg.CommunityCount()
	})
	assert.Equal(t, wantPop, gotPop)
	assert.Equal(t, wantCommunities, gotCommunities)

	// Both worlds evolve identically from here.
	sim.TickYear(4)
	restored.TickYear(4)
	assert.Equal(t, sim.CurrentStats().TotalPopulation, restored.CurrentStats().TotalPopulation)

	restored.EmitEvent(engine.Event{Year: 4, Description: "new", Category: "test"})
	last := restored.RecentEvents(1, "")
	require.Len(t, last, 1)
	assert.Greater(t, last[0].Seq, snap.Events[len(snap.Events)-1].Seq)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	snap := Capture(testSim(t), uuid.New(), 1)
	snap.Header.Version = 99
	_, err := Restore(snap)
	assert.Error(t, err)
}

func TestReadSnapshotErrors(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.snap.zst"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.snap.zst")
	require.NoError(t, os.WriteFile(bad, []byte("not zstd at all"), 0o644))
	_, err = ReadSnapshot(bad)
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteSnapshotReportsWriteErrors(t *testing.T) {
	snap := Capture(testSim(t), uuid.New(), 42)

	// Small snapshots sit in buffers until the final flush and close.
	assert.Error(t, encode(failingWriter{}, snap))

	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	assert.Error(t, WriteSnapshot("/dev/full", snap))
}

func TestCaptureWhileTicking(t *testing.T) {
	const years = 200

	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	ref := engine.NewSimulation(reg)
	want := map[uint64]uint64{0: ref.CurrentStats().TotalPopulation}
	for y := uint64(1); y <= years; y++ {
		ref.TickYear(y)
		want[y] = ref.CurrentStats().TotalPopulation
	}

	reg, err = world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	sim := engine.NewSimulation(reg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for y := uint64(1); y <= years; y++ {
			sim.TickYear(y)
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		restored, err := Restore(Capture(sim, uuid.New(), 42))
		require.NoError(t, err)
		year := restored.CurrentYear()
		require.Equal(t, year, restored.CurrentStats().Year)
		require.Equal(t, want[year], restored.CurrentStats().TotalPopulation, "year %d", year)
	}
}
