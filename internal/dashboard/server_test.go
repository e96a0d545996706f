package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/eddiefleurent/nifty_basket/internal/journal"
	"github.com/eddiefleurent/nifty_basket/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	sm  *models.EngineStateMachine
	mon models.MonitoringState
}

func (f *fakeEngine) State() *models.EngineStateMachine  { return f.sm }
func (f *fakeEngine) Monitoring() models.MonitoringState { return f.mon }
func (f *fakeEngine) CycleID() string                    { return "cycle-1" }

func newTestServer(t *testing.T, authToken string) (*Server, *fakeEngine) {
	t.Helper()
	jnl, err := journal.New(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)
	require.NoError(t, jnl.Append(journal.CycleRecord{ID: "cycle-0", ExitReason: "TARGET"}))

	eng := &fakeEngine{
		sm:  models.NewEngineStateMachine(),
		mon: models.MonitoringState{Active: true, DeployedCapital: 185000, ExitReason: models.ExitReasonNone},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewServer(Config{Port: 0, AuthToken: authToken}, eng, nil, jnl, logger), eng
}

func get(t *testing.T, s *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cycle-1", body.CycleID)
	assert.Equal(t, "waiting_entry", body.State)
	assert.True(t, body.Active)
	assert.InDelta(t, 185000.0, body.DeployedCapital, 1e-9)
}

func TestJournalEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := get(t, s, "/api/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cycles []journal.CycleRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, "cycle-0", cycles[0].ID)
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer(t, "sekrit")

	// Health is always open
	assert.Equal(t, http.StatusOK, get(t, s, "/health", nil).Code)

	// API requires the token
	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/status", nil).Code)
	assert.Equal(t, http.StatusOK,
		get(t, s, "/api/status", map[string]string{"X-Auth-Token": "sekrit"}).Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/api/status?token=sekrit", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		get(t, s, "/api/status", map[string]string{"X-Auth-Token": "wrong"}).Code)
}
