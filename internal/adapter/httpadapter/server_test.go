package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/adapter/httpadapter"
)

type mockReadiness struct {
	err   error
	calls int
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error {
	m.calls++
	return m.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func get(t *testing.T, srv *httpadapter.Server, path string) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]string
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealthzReturns200(t *testing.T) {
	srv := httpadapter.NewServer(":0", discard(), httpadapter.Check{Name: "storage", Checker: &mockReadiness{err: errors.New("down")}})

	code, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenAllChecksPass(t *testing.T) {
	store, sessions := &mockReadiness{}, &mockReadiness{}
	srv := httpadapter.NewServer(":0", discard(),
		httpadapter.Check{Name: "storage", Checker: store},
		httpadapter.Check{Name: "sessions", Checker: sessions},
	)

	code, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, sessions.calls)
}

func TestReadyzReturns503NamingFailedCheck(t *testing.T) {
	sessions := &mockReadiness{}
	srv := httpadapter.NewServer(":0", discard(),
		httpadapter.Check{Name: "storage", Checker: &mockReadiness{err: errors.New("connection refused")}},
		httpadapter.Check{Name: "sessions", Checker: sessions},
	)

	code, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "storage: connection refused", body["error"])
	assert.Zero(t, sessions.calls)
}

func TestReadyzWithoutChecks(t *testing.T) {
	code, _ := get(t, httpadapter.NewServer(":0", discard()), "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	code, _ := get(t, httpadapter.NewServer(":0", discard()), "/metrics")
	assert.Equal(t, http.StatusOK, code)
}
