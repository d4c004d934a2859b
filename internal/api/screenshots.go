package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/screenshot"
	"github.com/eligetuhosting/previewd/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// getScreenshot handles GET /v1/screenshots/{domain}. Failure results are a
// normal outcome and are returned with 200 like successes.
func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	res := s.service.Capture(r.Context(), chi.URLParam(r, "domain"))
	if res.OK() {
		w.Header().Set("Cache-Control", "public, max-age=60")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	writeJSON(w, http.StatusOK, res)
}

// sweepCache handles DELETE /v1/screenshots/cache.
func (s *Server) sweepCache(w http.ResponseWriter, r *http.Request) {
	removed, err := s.service.Sweep(r.Context())
	if err != nil {
		s.logger.Error("cache sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type captureView struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	Provider   string    `json:"provider,omitempty"`
	FromCache  bool      `json:"from_cache"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// getHistory handles GET /v1/screenshots/{domain}/history?limit=. It returns
// 400 for bad input, 503 without a capture repository, and 500 when the
// repository call fails.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "capture history unavailable")
		return
	}
	domain, err := screenshot.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.history.ListCaptures(r.Context(), domain, limit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("list captures failed", zap.String("domain", domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}

	views := make([]captureView, 0, len(records))
	for _, rec := range records {
		view := captureView{
			ID:         rec.ID.String(),
			Outcome:    string(rec.Outcome),
			Provider:   rec.Provider,
			FromCache:  rec.FromCache,
			Attempts:   rec.Attempts,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
			DurationMs: rec.Duration.Milliseconds(),
		}
		if rec.Reason != nil {
			view.Reason = *rec.Reason
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "captures": views})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
