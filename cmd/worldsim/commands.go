package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/demesne/internal/api"
	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/persistence/snapshot"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var snapshotDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, snapshotDir, cmd)
		},
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "also write compressed snapshots here on POST /snapshot")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, snapshotDir string, cmd *cobra.Command) error {
	cfg := opts.cfg
	ws, err := loadOrGenerate(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	eng := engine.NewEngine()
	eng.Year = ws.Sim.CurrentYear()
	eng.Interval = cfg.YearInterval
	eng.SetSpeed(cfg.Speed)
	eng.OnYear = func(year uint64) {
		ws.Sim.TickYear(year)
		if cfg.SaveEveryYears > 0 && year%cfg.SaveEveryYears == 0 {
			if err := ws.save(); err != nil {
				slog.Error("periodic save failed", "year", year, "error", err)
			}
		}
	}

	if cfg.AdminKey == "" {
		slog.Warn("WORLDSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:         ws.Sim,
		Eng:         eng,
		DB:          ws.DB,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		CORSOrigins: cfg.CORSOrigins,
		SnapshotDir: snapshotDir,
		WorldID:     ws.WorldID,
		Seed:        ws.Seed,
		Limiter:     api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window),
	}
	srv := apiServer.Start(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nDemesne is alive. %s.\n", ws.summary())
	fmt.Fprintf(out, "API: http://localhost:%d/api/v1/status\n", cfg.Port)
	fmt.Fprintln(out, "Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	slog.Info("final save...")
	if err := ws.save(); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	fmt.Fprintln(out, "Simulation stopped. World state saved.")
	return nil
}

func newStepCommand(opts *rootOptions) *cobra.Command {
	var years int

	cmd := &cobra.Command{
		Use:   "step",
		Short: "Advance the saved world by a number of years, then save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if years < 1 {
				return fmt.Errorf("--years must be at least 1, got %d", years)
			}
			ws, err := loadOrGenerate(opts.cfg)
			if err != nil {
				return err
			}
			defer ws.Close()

			eng := engine.NewEngine()
			eng.Year = ws.Sim.CurrentYear()
			eng.OnYear = ws.Sim.TickYear
			for i := 0; i < years; i++ {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				eng.Step()
			}

			if err := ws.save(); err != nil {
				return fmt.Errorf("save: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ws.summary())
			return nil
		},
	}
	cmd.Flags().IntVar(&years, "years", 1, "number of years to simulate")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the saved world to a compressed snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(opts.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ws, err := loadWorld(db)
			if err != nil {
				return err
			}

			snap := snapshot.Capture(ws.Sim, ws.WorldID, ws.Seed)
			if err := snapshot.WriteSnapshot(out, snap); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			slog.Info("snapshot exported", "path", out, "world_id", ws.WorldID, "year", snap.Header.Year)
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", ws.summary(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "snapshot file to write (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		in    string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the saved world with a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := snapshot.ReadHeader(in)
			if err != nil {
				return fmt.Errorf("read snapshot header: %w", err)
			}
			if h.Version != snapshot.Version {
				return fmt.Errorf("snapshot %s is version %d, this build reads version %d", in, h.Version, snapshot.Version)
			}

			db, err := openDB(opts.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			exists := db.HasWorldState()
			if exists && !force {
				return fmt.Errorf("database %s already holds a world; use --force to replace it", opts.cfg.DBPath)
			}

			snap, err := snapshot.ReadSnapshot(in)
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			sim, err := snapshot.Restore(snap)
			if err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}

			ws := &worldState{DB: db, Sim: sim, WorldID: snap.Header.WorldID, Seed: snap.Seed}
			save := db.SaveWorldState
			if exists {
				save = db.ReplaceWorldState
			}
			if err := save(sim, ws.meta()); err != nil {
				return fmt.Errorf("save: %w", err)
			}
			slog.Info("snapshot imported", "path", in, "world_id", ws.WorldID)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", ws.summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "snapshot file to read (required)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing saved world")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
