// Package engine provides the year-based simulation loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward one year per step.
type Engine struct {
	Year     uint64        // Last completed year (monotonic, never resets)
	Interval time.Duration // Base wall-clock time per year at speed 1

	// Called once per simulated year, after Year has advanced.
	OnYear func(year uint64)

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = one year per Interval, 0 = paused
	running atomic.Bool
	stop    chan struct{}
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
		stop:     make(chan struct{}),
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run steps the simulation until Stop is called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "year", e.Year, "speed", e.Speed())

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond
		if speed > 0 {
			start := time.Now()
			e.Step()
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "year", e.Year, "reason", ctx.Err())
			return
		case <-e.stop:
			slog.Info("simulation engine stopped", "year", e.Year)
			return
		case <-time.After(max(wait, 0)):
		}
	}
}

// Stop halts the simulation loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Step advances the simulation by exactly one year.
func (e *Engine) Step() {
	e.Year++
	if e.OnYear != nil {
		e.OnYear(e.Year)
	}
}

// YearLabel returns a human-readable label for a simulation year.
func YearLabel(year uint64) string {
	if year == 0 {
		return "Founding"
	}
	return fmt.Sprintf("Year %d", year)
}
