package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// defaultLeaderboardLimit is used when ?limit is missing.
const defaultLeaderboardLimit = 10

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "progression-engine",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"ready":       "/ready",
			"metrics":     "/metrics",
			"leaderboard": "/api/v1/leaderboard/{metric}",
			"user":        "/api/v1/users/{id}",
			"rank":        "/api/v1/users/{id}/rank",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady reports readiness (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports liveness (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]any{
		"uptime_seconds": s.Uptime().Seconds(),
	}

	if s.deps.Reader != nil {
		recomputed := make(map[string]string, len(shared.AllMetrics))
		for _, m := range shared.AllMetrics {
			if at, ok := s.deps.Reader.LastRecompute(m); ok {
				recomputed[m.String()] = at.UTC().Format(time.RFC3339)
			}
		}
		metrics["ranks_recomputed_at"] = recomputed
	}

	if s.deps.Metrics != nil {
		for k, v := range s.deps.Metrics() {
			metrics[k] = v
		}
	}

	writeJSON(w, r, http.StatusOK, metrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// userResponse is the public view of a user.
type userResponse struct {
	ID                   string         `json:"id"`
	DisplayName          string         `json:"display_name"`
	TotalXP              int            `json:"total_xp"`
	Level                int            `json:"level"`
	LevelProgress        int            `json:"level_progress_percent"`
	CurrentStreak        int            `json:"current_streak"`
	LongestStreak        int            `json:"longest_streak"`
	UnlockedAchievements []string       `json:"unlocked_achievements"`
	Ranks                map[string]int `json:"ranks,omitempty"`
}

// handleGetUser handles GET /api/v1/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "progression reader not configured")
		return
	}

	user, err := s.deps.Reader.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !user.Profile.Preferences.PublicProfile {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "user not found")
		return
	}

	writeJSON(w, r, http.StatusOK, newUserResponse(user))
}

func newUserResponse(u *progression.User) userResponse {
	resp := userResponse{
		ID:                   u.ID,
		DisplayName:          u.Profile.DisplayName,
		TotalXP:              u.TotalXP.Int(),
		Level:                int(u.Level),
		LevelProgress:        u.TotalXP.ProgressToNextLevel(),
		CurrentStreak:        u.CurrentStreak,
		LongestStreak:        u.LongestStreak,
		UnlockedAchievements: u.UnlockedAchievements,
	}
	if len(u.Ranks) > 0 {
		resp.Ranks = make(map[string]int, len(u.Ranks))
		for m, rank := range u.Ranks {
			resp.Ranks[m.String()] = int(rank)
		}
	}
	return resp
}

// handleGetUserRank handles GET /api/v1/users/{id}/rank?metric=xp
func (s *Server) handleGetUserRank(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "progression reader not configured")
		return
	}

	name := r.URL.Query().Get("metric")
	if name == "" {
		name = string(shared.MetricXP)
	}
	metric, err := shared.ParseMetric(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	userID := chi.URLParam(r, "id")
	rank, err := s.deps.Reader.GetRank(r.Context(), userID, metric)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id": userID,
		"metric":  metric.String(),
		"rank":    int(rank),
	})
}

// handleGetLeaderboard handles GET /api/v1/leaderboard/{metric}?limit=10
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "progression reader not configured")
		return
	}

	metric, err := shared.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	limit := getQueryParamInt(r, "limit", defaultLeaderboardLimit)
	entries, err := s.deps.Reader.TopN(r.Context(), metric, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	type entry struct {
		Rank   int    `json:"rank"`
		UserID string `json:"user_id"`
		Value  int64  `json:"value"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{Rank: int(e.Rank), UserID: e.UserID, Value: e.Value})
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"metric":  metric.String(),
		"entries": out,
	})
}
