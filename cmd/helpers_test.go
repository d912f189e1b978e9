package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/config"
)

// useTestConfig points the package config at a fresh SQLite file and
// restores the previous config when the test ends.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "enroll.db"),
		},
		Provider: config.ProviderConfig{
			Mode:          config.ModeSimulated,
			AffiliateCode: "test-aff",
			TimeoutSecs:   5,
		},
		Flow:   config.FlowConfig{CallTimeoutSecs: 5, CircuitFailureThreshold: 3, CircuitResetSecs: 30},
		Server: config.ServerConfig{Port: 8080},
	}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	useTestConfig(t)
	env, err := initApp(context.Background(), "simulate", false)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

// doJSON sends body as JSON to h and decodes the response into out when
// out is non-nil.
func doJSON(t *testing.T, h http.Handler, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr
}
