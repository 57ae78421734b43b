package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// SessionLister is the read side of the session store
type SessionLister interface {
	Recent(ctx context.Context, camera string, limit int) ([]Session, error)
}

type sessionResponse struct {
	ID              string    `json:"id"`
	Camera          string    `json:"camera"`
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Forced          bool      `json:"forced"`
}

type sessionsResponse struct {
	Camera   string            `json:"camera"`
	Sessions []sessionResponse `json:"sessions"`
}

// SessionsHandler serves GET /sessions/{camera}?limit=N with completed
// sessions, newest first
func SessionsHandler(store SessionLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.PathValue("camera")
		if camera == "" {
			writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "camera is required"})
			return
		}

		limit := defaultSessionLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxSessionLimit)
		}

		ctx, cancel := context.WithTimeout(r.Context(), storageTimeout)
		defer cancel()

		sessions, err := store.Recent(ctx, camera, limit)
		if err != nil {
			logger.Error("Failed to load sessions", "camera", camera, "error", err)
			writeJSON(w, logger, http.StatusInternalServerError, map[string]string{"error": "failed to load sessions"})
			return
		}

		resp := sessionsResponse{Camera: camera, Sessions: make([]sessionResponse, 0, len(sessions))}
		for _, s := range sessions {
			resp.Sessions = append(resp.Sessions, sessionResponse{
				ID:              s.ID.String(),
				Camera:          s.CameraID,
				EntryTime:       s.EntryTime.UTC(),
				ExitTime:        s.ExitTime.UTC(),
				DurationSeconds: s.Duration.Seconds(),
				Forced:          s.Forced,
			})
		}

		writeJSON(w, logger, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
