//go:build integration

// Package integration provides end-to-end tests that run the activity API
// against a real SQLite store.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/graaaaa/activity-telemetry/internal/api"
	"github.com/graaaaa/activity-telemetry/internal/api/dashtoken"
	"github.com/graaaaa/activity-telemetry/internal/app"
	"github.com/graaaaa/activity-telemetry/internal/derive"
	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/ingest"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// TestApp holds all dependencies for integration tests.
type TestApp struct {
	Server   *httptest.Server
	Store    *store.Store
	Hub      *api.Hub
	Presence *derive.State

	cfg *testAppConfig
}

// NewTestApp wires store, ingestion, use cases and server the way activityd
// does. Resources are released with t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{
		username:    "admin",
		password:    "password",
		tokenSecret: []byte("test-secret-key-32-bytes-long!!"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	presence := derive.New()
	hub := api.NewHub()
	go hub.Run()

	analytics := app.NewAnalyticsService(st)
	ingester := ingest.New(st,
		ingest.WithOnInsert(func(e event.Event) { presence.Update(&e) }),
		ingest.WithOnInsert(hub.Publish),
		ingest.WithOnInsert(analytics.ObserveInsert),
	)
	retention := &app.RetentionService{Store: st, Caches: []app.CacheInvalidator{analytics}}

	serverOpts := []api.ServerOption{
		api.WithIngestUsecase(ingester),
		api.WithActivitiesUsecase(&app.ActivitiesService{Store: st}),
		api.WithAnalyticsUsecase(analytics),
		api.WithRetentionUsecase(retention),
		api.WithPresenceUsecase(app.PresenceService{State: presence}),
		api.WithHub(hub),
	}
	if cfg.authEnabled {
		issuer, err := dashtoken.NewIssuer(cfg.tokenSecret)
		if err != nil {
			t.Fatalf("failed to create token issuer: %v", err)
		}
		serverOpts = append(serverOpts,
			api.WithBasicAuth(cfg.username, cfg.password),
			api.WithTokenIssuer(issuer),
		)
	}

	// Create server (addr is ignored for httptest)
	server := api.NewServer("127.0.0.1:0", app.HealthService{Version: "test", Store: st}, serverOpts...)
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
		st.Close()
	})

	return &TestApp{Server: ts, Store: st, Hub: hub, Presence: presence, cfg: cfg}
}

// URL returns the base URL of the test server.
func (a *TestApp) URL() string {
	return a.Server.URL
}

// Do sends a request, adding admin credentials when auth is enabled, and
// decodes a JSON response into out when out is non-nil.
func (a *TestApp) Do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.URL()+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.cfg.authEnabled {
		req.SetBasicAuth(a.cfg.username, a.cfg.password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// IngestBatch posts a batch and fails the test unless it is accepted.
func (a *TestApp) IngestBatch(t *testing.T, batch map[string]any) ingest.BatchResult {
	t.Helper()
	var res ingest.BatchResult
	if code := a.Do(t, http.MethodPost, "/api/v1/activities/batch", batch, &res); code != http.StatusCreated {
		t.Fatalf("expected 201 from batch ingest, got %d", code)
	}
	return res
}

// testAppConfig holds configuration for test app.
type testAppConfig struct {
	authEnabled bool
	username    string
	password    string
	tokenSecret []byte
}

// TestAppOption configures a test app.
type TestAppOption func(*testAppConfig)

// WithAuth enables authentication for the test app.
func WithAuth(username, password string) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.authEnabled = true
		cfg.username = username
		cfg.password = password
	}
}
