// Package api provides the HTTP API for querying world state.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/persistence"
	"github.com/talgya/demesne/internal/persistence/snapshot"
	"github.com/talgya/demesne/internal/social"
)

// Server serves the world state over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // nil disables POST /snapshot persistence
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Extra allowed CORS origins; localhost dev servers are always allowed.
	CORSOrigins []string

	// When set, POST /snapshot also writes a compressed snapshot file here.
	SnapshotDir string
	WorldID     uuid.UUID
	Seed        int64

	Limiter *RateLimiter // nil = 10 admin requests per minute per IP
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	limiter := s.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(10, time.Minute)
		s.Limiter = limiter
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/v1/nations", s.handleNations)
	mux.HandleFunc("GET /api/v1/nation/{id}", s.handleNationDetail)
	mux.HandleFunc("GET /api/v1/provinces", s.handleProvinces)
	mux.HandleFunc("GET /api/v1/province/{id}", s.handleProvinceDetail)
	mux.HandleFunc("GET /api/v1/relations", s.handleRelations)
	mux.HandleFunc("GET /api/v1/resources", s.handleResources)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/speed", RateLimitMiddleware(limiter, s.adminOnly(s.handleSpeed)))
	mux.HandleFunc("POST /api/v1/snapshot", RateLimitMiddleware(limiter, s.adminOnly(s.handleSnapshot)))
	mux.HandleFunc("POST /api/v1/intervention", RateLimitMiddleware(limiter, s.adminOnly(s.handleIntervention)))

	return corsMiddleware(s.CORSOrigins, mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server
// can be shut down by the caller.
func (s *Server) Start(ctx context.Context) *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go s.Limiter.RunCleanup(ctx, time.Hour)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
func corsMiddleware(extra []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range extra {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no WORLDSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.CurrentStats()
	year := s.Sim.CurrentYear()

	status := map[string]any{
		"name":             "Demesne",
		"year":             year,
		"year_label":       engine.YearLabel(year),
		"speed":            s.Eng.Speed(),
		"running":          s.Eng.Running(),
		"population":       stats.TotalPopulation,
		"population_label": humanize.Comma(int64(min(stats.TotalPopulation, math.MaxInt64))),
		"births":           stats.Births,
		"nations":          stats.Nations,
		"provinces":        stats.Provinces,
		"communities":      stats.Communities,
		"extinct":          stats.Extinct,
		"saturated":        stats.Saturated,
		"culture_spread":   stats.CultureSpread,
	}
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.CurrentStats())
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	history := s.Sim.StatsHistory()
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n < len(history) {
			history = history[len(history)-n:]
		}
	}
	writeJSON(w, history)
}

type nationSummary struct {
	ID          social.NationID `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Provinces   int             `json:"provinces"`
	Population  uint64          `json:"population"`
	Culture     culture.Culture `json:"culture"`
}

type provinceSummary struct {
	ID          social.ProvinceID `json:"id"`
	NationID    social.NationID   `json:"nation_id"`
	Name        string            `json:"name"`
	Population  uint64            `json:"population"`
	Communities int               `json:"communities"`
	Culture     culture.Culture   `json:"culture"`
}

type communityDetail struct {
	ID         uint32          `json:"id"`
	Population uint64          `json:"population"`
	Births     uint64          `json:"births"`
	MedianAge  int             `json:"median_age"`
	Saturated  bool            `json:"saturated"`
	Culture    culture.Culture `json:"culture"`
}

func summarizeNation(reg *social.Registry, n *social.Nation) nationSummary {
	out := nationSummary{
		ID:          n.ID,
		Name:        n.Name,
		Description: n.Description,
		Provinces:   len(n.Provinces),
	}
	out.Population, _ = reg.NationPopulation(n.ID)
	// A nation without provinces has no culture; report the zero vector.
	out.Culture, _ = reg.NationCulture(n.ID)
	return out
}

func summarizeProvince(p *social.Province) provinceSummary {
	return provinceSummary{
		ID:          p.ID,
		NationID:    p.NationID,
		Name:        p.Name,
		Population:  p.Population.TotalPopulation(),
		Communities: p.Population.Len(),
		Culture:     p.Population.AverageCulture(),
	}
}

func (s *Server) handleNations(w http.ResponseWriter, r *http.Request) {
	var result []nationSummary
	s.Sim.View(func(reg *social.Registry) {
		for _, n := range reg.Nations() {
			result = append(result, summarizeNation(reg, n))
		}
	})
	if result == nil {
		result = []nationSummary{}
	}
	writeJSON(w, result)
}

func (s *Server) handleNationDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		summary   nationSummary
		provinces []provinceSummary
		err       error
	)
	s.Sim.View(func(reg *social.Registry) {
		var n *social.Nation
		if n, err = reg.Nation(id); err != nil {
			return
		}
		summary = summarizeNation(reg, n)
		var members []*social.Province
		members, err = reg.NationProvinces(id)
		for _, p := range members {
			provinces = append(provinces, summarizeProvince(p))
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"nation":    summary,
		"provinces": provinces,
	})
}

func (s *Server) handleProvinces(w http.ResponseWriter, r *http.Request) {
	var nationFilter uint64
	if n := r.URL.Query().Get("nation"); n != "" {
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			http.Error(w, "invalid nation id", http.StatusBadRequest)
			return
		}
		nationFilter = v
	}

	result := []provinceSummary{}
	s.Sim.View(func(reg *social.Registry) {
		for _, p := range reg.Provinces() {
			if nationFilter != 0 && uint64(p.NationID) != nationFilter {
				continue
			}
			result = append(result, summarizeProvince(p))
		}
	})
	writeJSON(w, result)
}

func (s *Server) handleProvinceDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		summary     provinceSummary
		description string
		communities []communityDetail
		weighted    culture.Culture
		err         error
	)
	s.Sim.View(func(reg *social.Registry) {
		var p *social.Province
		if p, err = reg.Province(id); err != nil {
			return
		}
		summary = summarizeProvince(p)
		description = p.Description
		weighted = p.Population.WeightedCulture()
		for _, c := range p.Population.Communities() {
			ages := c.Ages()
			communities = append(communities, communityDetail{
				ID:         c.ID(),
				Population: ages.Population(),
				Births:     ages.Births(),
				MedianAge:  ages.MedianAge(),
				Saturated:  ages.Saturated(),
				Culture:    c.Culture(),
			})
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"province":         summary,
		"description":      description,
		"weighted_culture": weighted,
		"communities":      communities,
	})
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, errA := strconv.ParseUint(q.Get("a"), 10, 32)
	b, errB := strconv.ParseUint(q.Get("b"), 10, 32)
	if errA != nil || errB != nil {
		http.Error(w, "query parameters a and b must be nation ids", http.StatusBadRequest)
		return
	}

	var (
		rel social.Relation
		err error
	)
	s.Sim.View(func(reg *social.Registry) {
		rel, err = reg.Compare(social.NationID(a), social.NationID(b))
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"a":        a,
		"b":        b,
		"relation": rel,
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	result := []social.Resource{}
	s.Sim.View(func(reg *social.Registry) {
		for _, res := range reg.Resources() {
			result = append(result, *res)
		}
	})
	writeJSON(w, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	// Optional name filter: only events mentioning this province or nation.
	events := s.Sim.RecentEvents(limit, r.URL.Query().Get("name"))

	if cat := r.URL.Query().Get("category"); cat != "" {
		filtered := []engine.Event{}
		for _, e := range events {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	writeJSON(w, events)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil && s.SnapshotDir == "" {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{
		"year":    s.Sim.CurrentYear(),
		"message": "snapshot saved",
	}

	if s.DB != nil {
		meta := map[string]string{
			"world_id": s.WorldID.String(),
			"seed":     strconv.FormatInt(s.Seed, 10),
		}
		if err := s.DB.SaveWorldState(s.Sim, meta); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
	}

	if s.SnapshotDir != "" {
		snap := snapshot.Capture(s.Sim, s.WorldID, s.Seed)
		path := filepath.Join(s.SnapshotDir, fmt.Sprintf("year-%d.snap.zst", snap.Header.Year))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			slog.Error("snapshot export failed", "path", path, "error", err)
			http.Error(w, "snapshot export failed", http.StatusInternalServerError)
			return
		}
		resp["file"] = path
		resp["year"] = snap.Header.Year
	}

	writeJSON(w, resp)
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string           `json:"type"`
		Province    uint32           `json:"province"`
		Magnitude   float64          `json:"magnitude"`
		Target      *culture.Culture `json:"target,omitempty"`
		Description string           `json:"description,omitempty"`
		Category    string           `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		details string
		err     error
	)
	switch req.Type {
	case "event":
		if req.Description == "" {
			http.Error(w, "description required for event type", http.StatusBadRequest)
			return
		}
		cat := req.Category
		if cat == "" {
			cat = "intervention"
		}
		s.Sim.EmitEvent(engine.Event{
			Year:        s.Sim.CurrentYear(),
			Description: req.Description,
			Category:    cat,
		})
		details = "event injected"

	case "assimilate":
		details, err = s.Sim.Assimilate(req.Province, req.Magnitude)

	case "influence":
		if req.Target == nil {
			http.Error(w, "target required for influence type", http.StatusBadRequest)
			return
		}
		details, err = s.Sim.Influence(req.Province, *req.Target, req.Magnitude)

	default:
		http.Error(w, fmt.Sprintf("unknown intervention type %q", req.Type), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{"success": true, "details": details})
}

// pathID parses the {id} path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return uint32(id), true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, social.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrMagnitude):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, culture.ErrEmpty):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
