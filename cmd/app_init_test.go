package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/analytics"
	"github.com/sells-group/enroll-cli/internal/config"
	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/latch"
	"github.com/sells-group/enroll-cli/internal/model"
)

func TestInitAdapter_Simulated(t *testing.T) {
	a, err := initAdapter(config.ProviderConfig{Mode: config.ModeSimulated}, config.FlowConfig{})
	require.NoError(t, err)
	assert.IsType(t, &enrollment.SimulatedAdapter{}, a)

	a, err = initAdapter(config.ProviderConfig{}, config.FlowConfig{})
	require.NoError(t, err)
	assert.IsType(t, &enrollment.SimulatedAdapter{}, a)
}

func TestInitAdapter_SimulatedGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("missing_grid: ["), 0o600))

	_, err := initAdapter(config.ProviderConfig{Mode: config.ModeSimulated, QuoteGrid: path}, config.FlowConfig{})
	assert.Error(t, err)

	_, err = initAdapter(config.ProviderConfig{Mode: config.ModeSimulated, QuoteGrid: filepath.Join(t.TempDir(), "none.yaml")}, config.FlowConfig{})
	assert.Error(t, err)
}

func TestInitAdapter_Live(t *testing.T) {
	a, err := initAdapter(config.ProviderConfig{
		Mode:          config.ModeLive,
		BaseURL:       "https://provider.example.com",
		APIKey:        "key",
		AffiliateCode: "aff",
		RateLimitRPS:  2,
		TimeoutSecs:   10,
	}, config.FlowConfig{CircuitFailureThreshold: 3, CircuitResetSecs: 10})
	require.NoError(t, err)
	assert.IsType(t, &enrollment.ProviderAdapter{}, a)
}

func TestInitAdapter_Errors(t *testing.T) {
	_, err := initAdapter(config.ProviderConfig{Mode: "mock"}, config.FlowConfig{})
	assert.ErrorContains(t, err, "unsupported provider mode")

	_, err = initAdapter(config.ProviderConfig{
		Mode:       config.ModeSimulated,
		ErrorCodes: map[string]string{"DUPLICATE_LEAD": "sometimes"},
	}, config.FlowConfig{})
	assert.Error(t, err)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	useTestConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestInitApp_ValidationFails(t *testing.T) {
	useTestConfig(t)
	cfg.Provider.AffiliateCode = ""

	_, err := initApp(context.Background(), "serve", false)
	assert.ErrorContains(t, err, "provider.affiliate_code")
}

func TestInitApp_LiveFlagRequiresCredentials(t *testing.T) {
	useTestConfig(t)

	_, err := initApp(context.Background(), "simulate", true)
	assert.ErrorContains(t, err, "provider.base_url")
	assert.Equal(t, config.ModeLive, cfg.Provider.Mode)
}

func TestInitLatch_ProcessLocal(t *testing.T) {
	l, client := initLatch(context.Background(), config.RedisConfig{})
	assert.NotNil(t, l)
	assert.Nil(t, client)
}

func TestInitLatch_RedisUnavailable(t *testing.T) {
	l, client := initLatch(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.NotNil(t, l)
	assert.Nil(t, client)
}

func TestInitLatch_Redis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	l, client := initLatch(context.Background(), config.RedisConfig{Addr: mr.Addr(), LatchTTLSecs: 60})
	require.NotNil(t, client)
	t.Cleanup(func() { client.Close() }) //nolint:errcheck

	sess := &model.Session{
		ID:          "s1",
		CurrentStep: model.StepQuote,
		Zip:         "94107",
		Email:       "pat@example.com",
		Pets:        []model.Pet{{Name: "Biscuit", DateOfBirth: "2021-04-02"}},
	}
	d, _ := l.Acquire(context.Background(), sess)
	assert.Equal(t, latch.Acquired, d)
	assert.True(t, mr.Exists("enroll:latch:s1"))
}

func TestInitSink(t *testing.T) {
	assert.IsType(t, analytics.Nop{}, initSink(config.AnalyticsConfig{}))

	s := initSink(config.AnalyticsConfig{Endpoint: "http://127.0.0.1:1/events", TimeoutSecs: 1, MaxAttempts: 1})
	assert.IsType(t, &analytics.HTTPSink{}, s)
	s.Close()
}

func TestAppEnv_RegistryUsesStore(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.Store.CreateSession(context.Background(), "94107", "reg@example.com")
	require.NoError(t, err)

	o, err := env.Registry().Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, o.SessionID())
	assert.Equal(t, "reg@example.com", o.Session().Email)
}
