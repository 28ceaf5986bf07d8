// Command worldsim runs the Demesne population and culture simulation.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/demesne/internal/config"
	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/persistence"
	"github.com/talgya/demesne/internal/social"
	"github.com/talgya/demesne/internal/world"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("worldsim failed", "error", err)
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "worldsim",
		Short:         "Demesne - nations, provinces and the communities living in them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStepCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))

	return cmd
}

// worldState bundles an opened database with the simulation it holds.
type worldState struct {
	DB      *persistence.DB
	Sim     *engine.Simulation
	WorldID uuid.UUID
	Seed    int64
}

func openDB(path string) (*persistence.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", path)
	return db, nil
}

// loadOrGenerate restores the saved world, or generates and saves a fresh one.
func loadOrGenerate(cfg config.Config) (*worldState, error) {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	ws, err := loadWorld(db)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, errNoWorld) {
		db.Close()
		return nil, err
	}

	slog.Info("no saved state found, generating new world...")
	gen := cfg.GenConfig()
	if gen.Seed == 0 {
		gen.Seed = rand.Int63()
	}
	reg, err := world.Generate(gen)
	if err != nil {
		db.Close()
		return nil, err
	}

	ws = &worldState{DB: db, Sim: engine.NewSimulation(reg), WorldID: uuid.New(), Seed: gen.Seed}
	if err := ws.save(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initial save: %w", err)
	}
	return ws, nil
}

var errNoWorld = errors.New("no saved world")

// loadWorld restores a saved world. Returns errNoWorld for an empty database.
func loadWorld(db *persistence.DB) (*worldState, error) {
	if !db.HasWorldState() {
		return nil, errNoWorld
	}

	slog.Info("found saved world state, loading...")
	sim, err := db.LoadSimulation()
	if err != nil {
		return nil, fmt.Errorf("load world: %w", err)
	}

	ws := &worldState{DB: db, Sim: sim}
	if v, err := db.GetMeta("world_id"); err == nil {
		ws.WorldID, _ = uuid.Parse(v)
	}
	if ws.WorldID == uuid.Nil {
		ws.WorldID = uuid.New()
		slog.Warn("saved world had no id, assigned one", "world_id", ws.WorldID)
	}
	if v, err := db.GetMeta("seed"); err == nil {
		ws.Seed, _ = strconv.ParseInt(v, 10, 64)
	}

	stats := sim.CurrentStats()
	slog.Info("world state restored",
		"world_id", ws.WorldID,
		"year", engine.YearLabel(sim.CurrentYear()),
		"nations", stats.Nations,
		"provinces", stats.Provinces,
		"communities", stats.Communities,
	)
	return ws, nil
}

// save writes the simulation and the world's identity.
func (ws *worldState) save() error {
	return ws.DB.SaveWorldState(ws.Sim, ws.meta())
}

func (ws *worldState) meta() map[string]string {
	return map[string]string{
		"world_id": ws.WorldID.String(),
		"seed":     strconv.FormatInt(ws.Seed, 10),
	}
}

func (ws *worldState) Close() error {
	return ws.DB.Close()
}

// summary is a one-line description of the world for terminal output.
func (ws *worldState) summary() string {
	var nations, provinces int
	var pop uint64
	ws.Sim.View(func(reg *social.Registry) {
		nations = len(reg.Nations())
		provinces = len(reg.Provinces())
		pop = reg.TotalPopulation()
	})
	return fmt.Sprintf("%s: %s people in %d provinces of %d nations",
		engine.YearLabel(ws.Sim.CurrentYear()), humanize.Comma(int64(min(pop, math.MaxInt64))), provinces, nations)
}
