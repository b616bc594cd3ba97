package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alert-engine/internal/circuitbreaker"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/scheduler"
)

type stubStats struct{ stats scheduler.Stats }

func (s *stubStats) Stats() scheduler.Stats { return s.stats }

type stubBreakers struct{ stats []*circuitbreaker.Stats }

func (s *stubBreakers) BreakerStats() []*circuitbreaker.Stats { return s.stats }

type stubEvents struct {
	events    []*models.NotificationEvent
	err       error
	lastLimit int
}

func (s *stubEvents) Recent(ctx context.Context, limit int) ([]*models.NotificationEvent, error) {
	s.lastLimit = limit
	return s.events, s.err
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

func newTestServer(events *stubEvents, postgres, redis *stubPinger) *Server {
	stats := &stubStats{stats: scheduler.Stats{
		LastDueCount:   3,
		LastDispatched: 1,
		TicksCompleted: 12,
	}}
	breakers := &stubBreakers{stats: []*circuitbreaker.Stats{
		{Name: "price", State: circuitbreaker.StateClosed},
	}}
	return NewServer(config.OpsConfig{Host: "127.0.0.1", Port: "0"}, stats, breakers, events, postgres, redis, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_AllStoresReachable(t *testing.T) {
	srv := newTestServer(&stubEvents{}, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "ok", checks["redis"])
}

func TestHandleHealth_DegradedStoreReturns503(t *testing.T) {
	srv := newTestServer(&stubEvents{}, &stubPinger{}, &stubPinger{err: errors.New("connection refused")})

	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "unreachable", checks["redis"])
}

func TestHandleStatus_ReturnsSchedulerAndBreakers(t *testing.T) {
	srv := newTestServer(&stubEvents{}, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scheduler scheduler.Stats        `json:"scheduler"`
		Breakers  []*circuitbreaker.Stats `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Scheduler.LastDueCount)
	assert.Equal(t, uint64(12), body.Scheduler.TicksCompleted)
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, "price", body.Breakers[0].Name)
}

func TestHandleRecentEvents_DefaultLimit(t *testing.T) {
	events := &stubEvents{events: []*models.NotificationEvent{
		{EventID: "e1", AlertID: "a1", Outcome: models.OutcomeDispatched, CreatedAt: time.Now()},
	}}
	srv := newTestServer(events, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/events/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, events.lastLimit)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["count"])
}

func TestHandleRecentEvents_CustomLimit(t *testing.T) {
	events := &stubEvents{}
	srv := newTestServer(events, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/events/recent?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, events.lastLimit)
}

func TestHandleRecentEvents_InvalidLimit(t *testing.T) {
	srv := newTestServer(&stubEvents{}, &stubPinger{}, &stubPinger{})

	for _, limit := range []string{"abc", "0", "-3"} {
		rec := doRequest(t, srv, http.MethodGet, "/v1/events/recent?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestHandleRecentEvents_StoreError(t *testing.T) {
	events := &stubEvents{err: errors.New("clickhouse down")}
	srv := newTestServer(events, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/v1/events/recent")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(&stubEvents{}, &stubPinger{}, &stubPinger{})

	rec := doRequest(t, srv, http.MethodPost, "/v1/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
