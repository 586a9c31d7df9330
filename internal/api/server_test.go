package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatuszWithSnapshot(t *testing.T) {
	t.Parallel()

	status := func() any {
		return map[string]int{"pins_saved": 42}
	}
	s := NewServer(0, status, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/statusz", nil))

	require.Equal(t, 200, rec.Code)
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 42, got["pins_saved"])
}

func TestStatuszWithoutSnapshot(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/statusz", nil))

	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"status":"idle"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
