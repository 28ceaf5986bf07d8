package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/social"
	"github.com/talgya/demesne/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "world.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	assert.False(t, db.HasWorldState())

	year, err := db.LastYear()
	require.NoError(t, err)
	assert.Zero(t, year)

	seq, err := db.LastEventSeq()
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestRegistryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)

	require.NoError(t, db.SaveRegistry(reg))
	assert.True(t, db.HasWorldState())

	loaded, err := db.LoadRegistry()
	require.NoError(t, err)

	assert.Equal(t, len(reg.Nations()), len(loaded.Nations()))
	assert.Equal(t, len(reg.Resources()), len(loaded.Resources()))
	assert.Equal(t, reg.TotalPopulation(), loaded.TotalPopulation())
	assert.Equal(t, reg.CommunityCount(), loaded.CommunityCount())

	for _, want := range reg.Provinces() {
		got, err := loaded.Province(want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.NationID, got.NationID)
		assert.Equal(t, want.Population.AverageCulture(), got.Population.AverageCulture())

		wantMembers, gotMembers := want.Population.Communities(), got.Population.Communities()
		require.Len(t, gotMembers, len(wantMembers))
		for i := range wantMembers {
			assert.Equal(t, wantMembers[i].ID(), gotMembers[i].ID())
			assert.Equal(t, wantMembers[i].Ages(), gotMembers[i].Ages())
		}
	}

	for _, n := range reg.Nations() {
		got, err := loaded.Nation(n.ID)
		require.NoError(t, err)
		assert.Equal(t, n.Provinces, got.Provinces)
	}

	// Fresh IDs continue after the restored ones.
	assert.Equal(t, reg.NextCommunityID(), loaded.NextCommunityID())
}

func TestSaveWorldStateAndLoadSimulation(t *testing.T) {
	db := openTestDB(t)
	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)

	sim := engine.NewSimulation(reg)
	sim.TickYear(1)
	sim.TickYear(2)
	sim.EmitEvent(engine.Event{Year: 2, Description: "A comet is seen over Ironford", Category: "omen"})

	require.NoError(t, db.SaveWorldState(sim, nil))
	// Saving again must not duplicate events.
	require.NoError(t, db.SaveWorldState(sim, nil))

	events, err := db.RecentEvents(100)
	require.NoError(t, err)
	assert.Len(t, events, len(sim.RecentEvents(1000, "")))
	require.NotEmpty(t, events)
	assert.Equal(t, "omen", events[0].Category)

	loaded, err := db.LoadSimulation()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.CurrentYear())
	assert.Equal(t, uint64(2), loaded.CurrentStats().Year)
	assert.Equal(t, sim.CurrentStats().TotalPopulation, loaded.CurrentStats().TotalPopulation)

	// Events come back oldest first; only meta is not stored.
	saved := sim.RecentEvents(engine.MaxEvents, "")
	restored := loaded.RecentEvents(engine.MaxEvents, "")
	require.Len(t, restored, len(saved))
	for i := range saved {
		saved[i].Meta = nil
	}
	assert.Equal(t, saved, restored)

	loaded.EmitEvent(engine.Event{Year: 2, Description: "after restart", Category: "test"})
	latest := loaded.RecentEvents(1, "")
	require.Len(t, latest, 1)
	assert.Greater(t, latest[0].Seq, events[0].Seq)
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMeta("world_id", "abc"))
	require.NoError(t, db.SaveMeta("world_id", "def"))
	v, err := db.GetMeta("world_id")
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	_, err = db.GetMeta("missing")
	assert.Error(t, err)
}

func TestLoadRejectsOrphanProvince(t *testing.T) {
	db := openTestDB(t)
	reg := social.NewRegistry()
	require.NoError(t, db.SaveRegistry(reg))

	_, err := db.conn.Exec("INSERT INTO provinces (id, nation_id, name, description) VALUES (1, 1, 'Lost', '')")
	require.NoError(t, err)
	_, err = db.LoadRegistry()
	assert.Error(t, err)
}

func TestReplaceWorldState(t *testing.T) {
	db := openTestDB(t)
	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	old := engine.NewSimulation(reg)
	old.TickYear(1)
	old.TickYear(2)
	require.NoError(t, db.SaveWorldState(old, map[string]string{"world_id": "old"}))

	cfg := world.SmallTestConfig()
	cfg.Seed = 7
	reg, err = world.Generate(cfg)
	require.NoError(t, err)
	next := engine.NewSimulation(reg)
	next.EmitEvent(engine.Event{Description: "founding", Category: "test"})

	require.NoError(t, db.ReplaceWorldState(next, map[string]string{"world_id": "new"}))

	events, err := db.RecentEvents(100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "founding", events[0].Description)
	year, err := db.LastYear()
	require.NoError(t, err)
	assert.Zero(t, year)
	id, err := db.GetMeta("world_id")
	require.NoError(t, err)
	assert.Equal(t, "new", id)

	loaded, err := db.LoadSimulation()
	require.NoError(t, err)
	assert.Equal(t, next.CurrentStats().TotalPopulation, loaded.CurrentStats().TotalPopulation)
}

func TestReplaceWorldStateFailureKeepsOldWorld(t *testing.T) {
	db := openTestDB(t)
	reg, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	sim := engine.NewSimulation(reg)
	sim.TickYear(1)
	require.NoError(t, db.SaveWorldState(sim, map[string]string{"world_id": "old"}))

	var nations int
	require.NoError(t, db.conn.Get(&nations, "SELECT COUNT(*) FROM nations"))

	// Break the write partway through the replace.
	_, err = db.conn.Exec("DROP TABLE communities")
	require.NoError(t, err)
	assert.Error(t, db.ReplaceWorldState(sim, map[string]string{"world_id": "new"}))

	assert.True(t, db.HasWorldState())
	var after int
	require.NoError(t, db.conn.Get(&after, "SELECT COUNT(*) FROM nations"))
	assert.Equal(t, nations, after)
	id, err := db.GetMeta("world_id")
	require.NoError(t, err)
	assert.Equal(t, "old", id)
	year, err := db.LastYear()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), year)
}

func TestSaveWhileTicking(t *testing.T) {
	const years = 300

	// Ticking is deterministic, so a second copy gives the expected total per year.
	ref, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	refSim := engine.NewSimulation(ref)
	want := map[uint64]uint64{0: refSim.CurrentStats().TotalPopulation}
	for y := uint64(1); y <= years; y++ {
		refSim.TickYear(y)
		want[y] = refSim.CurrentStats().TotalPopulation
	}

	db := openTestDB(t)
	reg, err := world.Generate(world.SmallTestConfig())
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
		require.NoError(t, db.SaveWorldState(sim, nil))
		loaded, err := db.LoadSimulation()
		require.NoError(t, err)

		year := loaded.CurrentYear()
		stats := loaded.CurrentStats()
		require.Equal(t, year, stats.Year)
		require.Equal(t, want[year], stats.TotalPopulation, "year %d", year)
	}
}
