package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/daemon"
	"github.com/nettrail/fwmon/internal/domain"
)

type stubStatus struct {
	snap daemon.StatsSnapshot
}

func (s *stubStatus) Snapshot() daemon.StatsSnapshot { return s.snap }

type stubRecent struct {
	recs []domain.DisplayRecord
}

func (s *stubRecent) Records() []domain.DisplayRecord { return s.recs }

func newTestServer(t *testing.T, status StatusSource, recent RecentSource) *httptest.Server {
	t.Helper()
	srv := NewServer(":0", status, recent, zap.NewNop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, &stubStatus{}, &stubRecent{})

	code, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", string(body))
}

func TestServer_Status(t *testing.T) {
	status := &stubStatus{snap: daemon.StatsSnapshot{
		State:            domain.StateRunning,
		Ticks:            12,
		FailedTicks:      2,
		RecordsScanned:   40,
		RecordsDisplayed: 7,
		LastWatermark:    123456789,
	}}
	ts := newTestServer(t, status, &stubRecent{})

	code, body := get(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "running", decoded["state"])
	assert.Equal(t, float64(12), decoded["ticks"])
	assert.Equal(t, float64(2), decoded["failed_ticks"])
	assert.Equal(t, float64(40), decoded["records_scanned"])
	assert.Equal(t, float64(7), decoded["records_displayed"])
	assert.Equal(t, float64(123456789), decoded["last_watermark"])
}

func TestServer_Recent(t *testing.T) {
	recent := &stubRecent{recs: []domain.DisplayRecord{
		{
			Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
			Message:   "ALLOW tcp 10.0.0.5:443",
			Category:  domain.CategoryAllow,
		},
	}}
	ts := newTestServer(t, &stubStatus{}, recent)

	code, body := get(t, ts.URL+"/api/recent")
	require.Equal(t, http.StatusOK, code)

	var decoded struct {
		Records []domain.DisplayRecord `json:"records"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, 1, decoded.Count)
	require.Len(t, decoded.Records, 1)
	assert.Equal(t, "ALLOW tcp 10.0.0.5:443", decoded.Records[0].Message)
	assert.Equal(t, domain.CategoryAllow, decoded.Records[0].Category)
}

func TestServer_RecentEmptyIsArrayNotNull(t *testing.T) {
	ts := newTestServer(t, &stubStatus{}, &stubRecent{})

	code, body := get(t, ts.URL+"/api/recent")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"records":[]`)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &stubStatus{}, &stubRecent{})

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
