package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	sessions  []Session
	err       error
	gotCamera string
	gotLimit  int
}

func (f *fakeLister) Recent(ctx context.Context, camera string, limit int) ([]Session, error) {
	f.gotCamera = camera
	f.gotLimit = limit
	return f.sessions, f.err
}

func serveSessions(t *testing.T, lister SessionLister, target string) *httptest.ResponseRecorder {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{camera}", SessionsHandler(lister, newTestLogger()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSessionsHandler(t *testing.T) {
	entry := time.Date(2026, 10, 14, 8, 0, 1, 100_000_000, time.UTC)
	lister := &fakeLister{sessions: []Session{{
		ID:        uuid.New(),
		CameraID:  "gate",
		EntryTime: entry,
		ExitTime:  entry.Add(5100 * time.Millisecond),
		Duration:  5100 * time.Millisecond,
	}}}

	rec := serveSessions(t, lister, "/sessions/gate?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gate", lister.gotCamera)
	assert.Equal(t, 5, lister.gotLimit)

	var resp sessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, lister.sessions[0].ID.String(), resp.Sessions[0].ID)
	assert.InDelta(t, 5.1, resp.Sessions[0].DurationSeconds, 1e-9)
	assert.True(t, resp.Sessions[0].ExitTime.Equal(entry.Add(5100*time.Millisecond)))
}

func TestSessionsHandler_Limits(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
	}{
		{"default", "/sessions/gate", http.StatusOK, defaultSessionLimit},
		{"capped", "/sessions/gate?limit=5000", http.StatusOK, maxSessionLimit},
		{"zero", "/sessions/gate?limit=0", http.StatusBadRequest, 0},
		{"not a number", "/sessions/gate?limit=many", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{}
			rec := serveSessions(t, lister, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLimit, lister.gotLimit)
		})
	}
}

func TestSessionsHandler_StoreError(t *testing.T) {
	rec := serveSessions(t, &fakeLister{err: errors.New("connection refused")}, "/sessions/gate")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load sessions")
}

func TestSessionsHandler_EmptyList(t *testing.T) {
	rec := serveSessions(t, &fakeLister{}, "/sessions/hall")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"camera":"hall","sessions":[]}`, rec.Body.String())
}
