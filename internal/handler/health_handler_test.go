package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPinger is a mock implementation of Pinger.
type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func setupHealthTestApp(store, producer, db Pinger) *fiber.App {
	app := fiber.New()
	h := NewHealthHandler(store, producer, db)
	app.Get("/health", h.Check)
	return app
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	app := setupHealthTestApp(&mockPinger{}, &mockPinger{}, &mockPinger{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "healthy", out["status"])
}

func TestHealthCheck_DependencyDown(t *testing.T) {
	down := &mockPinger{pingFn: func(ctx context.Context) error {
		return errors.New("connection refused")
	}}

	cases := []struct {
		name                string
		store, producer, db Pinger
		wantError           string
	}{
		{"store down", down, &mockPinger{}, &mockPinger{}, "store connection failed"},
		{"producer down", &mockPinger{}, down, &mockPinger{}, "producer connection failed"},
		{"database down", &mockPinger{}, &mockPinger{}, down, "database connection failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := setupHealthTestApp(tc.store, tc.producer, tc.db)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

			var out map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, "unhealthy", out["status"])
			assert.Equal(t, tc.wantError, out["error"])
		})
	}
}
