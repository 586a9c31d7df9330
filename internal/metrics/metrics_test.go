package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestInitIdempotent ensures repeated Init calls do not re-register
// collectors (promauto panics on duplicate registration).
func TestInitIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, pinsSavedTotal)
	require.NotNil(t, downloadsTotal)
}

func TestObserversDoNotPanic(t *testing.T) {
	ObservePinSaved("saved")
	ObservePinSaved("duplicate")
	ObserveScroll("search")
	ObserveScroll("expansion")
	ObserveAPIPage()
	ObserveDownload("completed")
	ObserveDownload("failed")
	ObserveDownloadRetry()
	ObserveDownloadComplete(2048, 750*time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObservePinSaved("saved")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "pinharvest_pins_total")
}
