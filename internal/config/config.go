// Package config loads worldsim settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/demesne/internal/world"
)

type Config struct {
	DBPath   string `yaml:"db_path"`
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key"`

	// Wall-clock time per simulated year at speed 1.
	YearInterval time.Duration `yaml:"year_interval"`
	Speed        float64       `yaml:"speed"`

	// Years between automatic saves while serving.
	SaveEveryYears uint64 `yaml:"save_every_years"`

	CORSOrigins []string  `yaml:"cors_origins"`
	RateLimit   RateLimit `yaml:"rate_limit"`

	World World `yaml:"world"`
}

type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// World mirrors world.GenConfig.
type World struct {
	Seed               int64   `yaml:"seed"`
	Nations            int     `yaml:"nations"`
	ProvincesPerNation int     `yaml:"provinces_per_nation"`
	MinCommunities     int     `yaml:"min_communities"`
	MaxCommunities     int     `yaml:"max_communities"`
	CultureSpread      float64 `yaml:"culture_spread"`
	NoiseScale         float64 `yaml:"noise_scale"`
}

func Default() Config {
	g := world.DefaultGenConfig()
	return Config{
		DBPath:         "data/worldsim.db",
		Port:           8080,
		YearInterval:   time.Second,
		Speed:          1,
		SaveEveryYears: 25,
		RateLimit:      RateLimit{Requests: 10, Window: time.Minute},
		World: World{
			Seed:               g.Seed,
			Nations:            g.Nations,
			ProvincesPerNation: g.ProvincesPerNation,
			MinCommunities:     g.MinCommunities,
			MaxCommunities:     g.MaxCommunities,
			CultureSpread:      g.CultureSpread,
			NoiseScale:         g.NoiseScale,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Environment overrides are applied either way.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WORLDSIM_* and CORS_ORIGINS variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WORLDSIM_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("WORLDSIM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORLDSIM_PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("WORLDSIM_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WORLDSIM_SEED: %w", err)
		}
		c.World.Seed = seed
	}
	if v := os.Getenv("WORLDSIM_ADMIN_KEY"); v != "" {
		c.AdminKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Speed < 0 {
		return fmt.Errorf("speed must not be negative, got %f", c.Speed)
	}
	if c.YearInterval <= 0 {
		return fmt.Errorf("year_interval must be positive, got %s", c.YearInterval)
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be positive, got %d", c.RateLimit.Requests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	return c.GenConfig().Validate()
}

// GenConfig converts the world section for world.Generate.
func (c Config) GenConfig() world.GenConfig {
	return world.GenConfig{
		Seed:               c.World.Seed,
		Nations:            c.World.Nations,
		ProvincesPerNation: c.World.ProvincesPerNation,
		MinCommunities:     c.World.MinCommunities,
		MaxCommunities:     c.World.MaxCommunities,
		CultureSpread:      c.World.CultureSpread,
		NoiseScale:         c.World.NoiseScale,
	}
}
