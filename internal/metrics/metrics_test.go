package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordEvent("ProjectFilesChange", "ok", 0.1)
		m.RecordChange("git_head")
		m.RecordSnapshot("created")
		m.RecordDelta()
		m.RecordSessionFlush()
		m.SetDashboardClients(3)
		m.EventStarted()
		m.EventFinished()
	})
}

func TestRecordAndExpose(t *testing.T) {
	m := New()

	m.RecordEvent("OplogChange", "error", 0.2)
	m.RecordChange("git_fetch")
	m.RecordChange("git_fetch")
	m.SetDashboardClients(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `butlerd_changes_total{kind="git_fetch"} 2`)
	assert.Contains(t, string(body), `butlerd_events_total{kind="OplogChange",result="error"} 1`)
	assert.Contains(t, string(body), `butlerd_dashboard_clients 2`)
}
