// Package api provides the HTTP API for observing a walk.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/engine"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/persistence"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// Server serves the walk over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Loop     *engine.Loop    // Optional; speed control needs it
	DB       *persistence.DB // Optional; archive queries and saves need it
	Name     string
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Requests per minute per client on the archive endpoint.
	ArchiveLimit int

	Log *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	limit := s.ArchiveLimit
	if limit <= 0 {
		limit = 60
	}
	archiveLimiter := NewRateLimiter(limit, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/walkers", s.handleWalkers)
	mux.HandleFunc("GET /api/v1/walker/{id}", s.handleWalker)
	mux.HandleFunc("GET /api/v1/dialogues", s.handleDialogues)
	mux.HandleFunc("GET /api/v1/relationships", s.handleRelationships)
	mux.HandleFunc("GET /api/v1/crises", s.handleCrises)
	mux.HandleFunc("GET /api/v1/narrative", s.handleNarrative)
	mux.HandleFunc("GET /api/v1/narrative/archive", RateLimitMiddleware(archiveLimiter, s.handleArchive))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/save", s.adminOnly(s.handleSave))
	mux.HandleFunc("POST /api/v1/walker/{id}/retire", s.adminOnly(s.handleRetire))

	return corsMiddleware(mux)
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger().Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger().Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
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
			http.Error(w, "admin endpoints disabled (no WALK_ADMIN_KEY set)", http.StatusForbidden)
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
	snap := s.Sim.Latest()
	talking := 0
	for _, a := range snap.Agents {
		if a.Activity == agents.ActivityTalking.String() {
			talking++
		}
	}

	status := map[string]any{
		"name":          s.Name,
		"tick":          snap.Tick,
		"walkers":       len(snap.Agents),
		"talking":       talking,
		"dialogues":     len(snap.Dialogues),
		"relationships": len(snap.Relationships),
		"active_crises": len(snap.Crises),
		"proposals":     len(snap.Proposals),
		"reasoning":     s.Sim.Reasoning(),
		"in_flight":     s.Sim.InFlight(),
		"archive":       s.DB != nil,
	}
	if s.Loop != nil {
		status["speed"] = s.Loop.Speed()
		status["running"] = s.Loop.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Latest())
}

func (s *Server) handleWalkers(w http.ResponseWriter, r *http.Request) {
	walkers := s.Sim.Latest().Agents
	if activity := r.URL.Query().Get("activity"); activity != "" {
		var filtered []state.AgentView
		for _, a := range walkers {
			if a.Activity == activity {
				filtered = append(filtered, a)
			}
		}
		walkers = filtered
	}
	writeJSON(w, walkers)
}

func (s *Server) handleWalker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid walker id", http.StatusBadRequest)
		return
	}

	snap := s.Sim.Latest()
	for _, a := range snap.Agents {
		if a.ID != agents.ID(id) {
			continue
		}
		var rels []state.RelationshipView
		for _, rel := range snap.Relationships {
			if rel.Pair.Has(a.ID) {
				rels = append(rels, rel)
			}
		}
		writeJSON(w, map[string]any{
			"walker":        a,
			"relationships": rels,
			"recent":        s.Sim.Recent(20, narrative.Involving(a.ID)),
		})
		return
	}
	http.Error(w, "walker not found", http.StatusNotFound)
}

func (s *Server) handleDialogues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Latest().Dialogues)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	rels := s.Sim.Latest().Relationships
	if stage := r.URL.Query().Get("stage"); stage != "" {
		var filtered []state.RelationshipView
		for _, rel := range rels {
			if rel.Stage == stage {
				filtered = append(filtered, rel)
			}
		}
		rels = filtered
	}
	writeJSON(w, rels)
}

func (s *Server) handleCrises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Latest().Crises)
}

// narrativeQuery reads limit, kind and walker parameters.
func narrativeQuery(r *http.Request) (limit int, kind narrative.Kind, walker agents.ID, err error) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	kind = narrative.Kind(r.URL.Query().Get("kind"))
	if v := r.URL.Query().Get("walker"); v != "" {
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			return 0, "", 0, fmt.Errorf("invalid walker %q", v)
		}
		walker = agents.ID(n)
	}
	return limit, kind, walker, nil
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	limit, kind, walker, err := narrativeQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var filters []narrative.Filter
	if kind != "" {
		filters = append(filters, narrative.OfKind(kind))
	}
	if walker != 0 {
		filters = append(filters, narrative.Involving(walker))
	}
	entries := s.Sim.Recent(limit, filters...)
	if entries == nil {
		entries = []narrative.Entry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit, kind, _, err := narrativeQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.DB.RecentNarrative(limit, kind)
	if err != nil {
		s.logger().Error("archive query failed", "error", err)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Loop == nil {
		http.Error(w, "simulation is not running in real time", http.StatusConflict)
		return
	}
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
	s.Loop.SetSpeed(req.Speed)
	s.logger().Info("speed changed", "speed", req.Speed)

	writeJSON(w, map[string]float64{"speed": s.Loop.Speed()})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	var tick uint64
	err := s.Sim.WithStore(func(st *state.Store) error {
		tick = st.Tick
		return s.DB.SaveWorldState(st)
	})
	if err != nil {
		s.logger().Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    tick,
		"message": "world state saved",
	})
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid walker id", http.StatusBadRequest)
		return
	}
	if err := s.Sim.Retire(agents.ID(id)); err != nil {
		if errors.Is(err, engine.ErrUnknownWalker) {
			http.Error(w, "walker not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"walker": id, "activity": agents.ActivityInactive.String()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
