package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/epg"
	"sfvip-launcher/work/jobs"
)

func newTestServer(t *testing.T, adminHash string) *Server {
	t.Helper()
	group, err := jobs.NewGroup(2)
	require.NoError(t, err)
	t.Cleanup(group.Close)
	cacheStore := cache.NewStore(t.TempDir(), 15, nil)
	epgStore := epg.NewStore(group, t.TempDir(), 5, 30, 5*time.Second)
	return New(cacheStore, epgStore, nil, adminHash)
}

func TestStatusRoute(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NO_EPG", body["epg_status"])
	assert.EqualValues(t, 30, body["epg_confidence"])
}

func TestJournalRouteWithoutJournal(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/journal", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/cache/stop", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminGate(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	s := newTestServer(t, hash)

	req := httptest.NewRequest("POST", "/api/cache/stop", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing password")

	req = httptest.NewRequest("POST", "/api/cache/stop", nil)
	req.Header.Set("X-Admin-Password", "wrong")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong password")

	req = httptest.NewRequest("POST", "/api/cache/stop", nil)
	req.Header.Set("X-Admin-Password", "hunter2")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEPGConfidenceRoute(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	s := newTestServer(t, hash)

	req := httptest.NewRequest("POST", "/api/epg/confidence", strings.NewReader(`{"confidence": 60}`))
	req.Header.Set("X-Admin-Password", "hunter2")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return s.epg.Confidence() == 60 },
		time.Second, 10*time.Millisecond)
}

func TestEPGURLRouteRejectsBadBody(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	s := newTestServer(t, hash)

	req := httptest.NewRequest("POST", "/api/epg/url", strings.NewReader("not json"))
	req.Header.Set("X-Admin-Password", "hunter2")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
