package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"facilitypm/internal/config"
	"facilitypm/internal/types"
)

// mockAuthenticator returns Principal or Err and records the last token.
type mockAuthenticator struct {
	Principal *types.Principal
	Err       error

	mu        sync.Mutex
	lastToken string
}

func (m *mockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Principal, error) {
	m.mu.Lock()
	m.lastToken = token
	m.mu.Unlock()
	return m.Principal, m.Err
}

type recordedRequest struct {
	method, endpoint, status string
	duration                 time.Duration
}

type mockMetricsCollector struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{method, endpoint, status, d})
}

func (m *mockMetricsCollector) all() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Build.Version = "1.2.3"

	srv, err := NewServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func techPrincipal(siteIDs ...string) *types.Principal {
	return &types.Principal{
		Actor: types.UserActor("user_tech"),
		Scope: types.SiteSet(siteIDs...),
		Roles: []string{types.RoleTech},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (body=%q)", err, rec.Body.String())
	}
	return body.Error
}
