package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/jeeves-presence/pkg/metrics"
	"github.com/saaga0h/jeeves-presence/pkg/mqtt"
	"github.com/saaga0h/jeeves-presence/pkg/postgres"
	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

type stubMQTT struct{ connected bool }

func (s *stubMQTT) Connect(ctx context.Context) error { return nil }
func (s *stubMQTT) Disconnect() {}
func (s *stubMQTT) Subscribe(topic string, qos byte, h mqtt.MessageHandler) error { return nil }
func (s *stubMQTT) Unsubscribe(topics ...string) error { return nil }
func (s *stubMQTT) Publish(topic string, qos byte, retained bool, p []byte) error { return nil }
func (s *stubMQTT) IsConnected() bool { return s.connected }

type stubPostgres struct {
	postgres.Client
	connected bool
}

func (s *stubPostgres) HealthCheck(ctx context.Context) (*postgres.HealthStatus, error) {
	return &postgres.HealthStatus{Connected: s.connected}, nil
}

func newChecker(t *testing.T, mqttConnected bool, pg postgres.Client) (*Checker, *miniredis.Miniredis) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	redisClient := redis.NewClientWithAddress(mr.Addr(), "", 0, logger)
	t.Cleanup(func() { _ = redisClient.Close() })

	return NewChecker(&stubMQTT{connected: mqttConnected}, redisClient, pg, logger), mr
}

func get(t *testing.T, checker *Checker, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()

	mux := http.NewServeMux()
	checker.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp HealthResponse
	if path != "/metrics" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHandlerFunc_Liveness(t *testing.T) {
	checker, _ := newChecker(t, false, nil)

	rec, resp := get(t, checker, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Services)
}

func TestDetailedHandlerFunc(t *testing.T) {
	tests := []struct {
		name         string
		mqtt         bool
		pg           postgres.Client
		redisDown    bool
		wantCode     int
		wantStatus   string
		wantPostgres string
	}{
		{name: "all connected without postgres", mqtt: true, wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "all connected with postgres", mqtt: true, pg: &stubPostgres{connected: true}, wantCode: http.StatusOK, wantStatus: "healthy", wantPostgres: "connected"},
		{name: "postgres down", mqtt: true, pg: &stubPostgres{}, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded", wantPostgres: "disconnected"},
		{name: "mqtt down", mqtt: false, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
		{name: "redis down", mqtt: true, redisDown: true, wantCode: http.StatusServiceUnavailable, wantStatus: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker, mr := newChecker(t, tt.mqtt, tt.pg)
			if tt.redisDown {
				mr.Close()
			}

			rec, resp := get(t, checker, "/health/detailed")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			require.NotNil(t, resp.Services)
			assert.Equal(t, tt.wantPostgres, resp.Services.Postgres)
		})
	}
}

func TestRoutes_Metrics(t *testing.T) {
	checker, _ := newChecker(t, true, nil)
	metrics.FramesTotal.WithLabelValues("health-test").Inc()

	rec, _ := get(t, checker, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "presence_frames_total")
}
