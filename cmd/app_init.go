package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/analytics"
	"github.com/sells-group/enroll-cli/internal/config"
	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/flow"
	"github.com/sells-group/enroll-cli/internal/latch"
	"github.com/sells-group/enroll-cli/internal/resilience"
	"github.com/sells-group/enroll-cli/internal/session"
	"github.com/sells-group/enroll-cli/internal/store"
	"github.com/sells-group/enroll-cli/pkg/insurer"
)

// appEnv holds everything a flow-driving command needs.
type appEnv struct {
	Store   store.Store
	Adapter enrollment.Adapter
	Latch   *latch.Latch
	Sink    analytics.Sink
	Redis   *redis.Client // may be nil
	Flow    config.FlowConfig

	affiliateCode string
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Sink != nil {
		e.Sink.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Orchestrator builds an orchestrator for id over backend.
func (e *appEnv) Orchestrator(backend session.Backend, id string) *flow.Orchestrator {
	return flow.New(e.Adapter, session.New(backend, id),
		flow.WithLatch(e.Latch),
		flow.WithRecorder(e.Store),
		flow.WithSink(e.Sink),
		flow.WithAffiliateCode(e.affiliateCode),
		flow.WithCallTimeout(e.Flow.CallTimeout()),
	)
}

// Registry returns a registry whose orchestrators read and write the local
// store directly.
func (e *appEnv) Registry() *flow.Registry {
	backend := session.StoreBackend{Store: e.Store}
	return flow.NewRegistry(func(id string) *flow.Orchestrator {
		return e.Orchestrator(backend, id)
	})
}

// initApp validates config for mode and wires store, adapter, latch and
// analytics. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, live bool) (*appEnv, error) {
	if live {
		cfg.Provider.Mode = config.ModeLive
	}
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}

	adapter, err := initAdapter(cfg.Provider, cfg.Flow)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &appEnv{
		Store:         st,
		Adapter:       adapter,
		Sink:          initSink(cfg.Analytics),
		Flow:          cfg.Flow,
		affiliateCode: cfg.Provider.AffiliateCode,
	}
	env.Latch, env.Redis = initLatch(ctx, cfg.Redis)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enroll.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initAdapter builds the adapter selected by provider.mode. The choice is
// made here, never inside the flow.
func initAdapter(pc config.ProviderConfig, fc config.FlowConfig) (enrollment.Adapter, error) {
	codes := enrollment.DefaultErrorCodes()
	if len(pc.ErrorCodes) > 0 {
		parsed, err := enrollment.ParseErrorCodes(pc.ErrorCodes)
		if err != nil {
			return nil, err
		}
		codes = parsed
	}

	switch pc.Mode {
	case config.ModeLive:
		timeout := time.Duration(pc.TimeoutSecs) * time.Second
		client := insurer.NewClient(pc.APIKey,
			insurer.WithBaseURL(pc.BaseURL),
			insurer.WithRateLimit(pc.RateLimitRPS),
			insurer.WithHTTPClient(&http.Client{Timeout: timeout}),
		)
		cbCfg := resilience.FromCircuitConfig(fc.CircuitFailureThreshold, fc.CircuitResetSecs)
		cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("provider circuit changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		cb := resilience.NewCircuitBreaker(cbCfg)
		return enrollment.NewProviderAdapter(client,
			enrollment.WithAffiliateCode(pc.AffiliateCode),
			enrollment.WithErrorCodes(codes),
			enrollment.WithCircuitBreaker(cb),
		), nil
	case config.ModeSimulated, "":
		opts := []enrollment.SimOption{enrollment.WithSimErrorCodes(codes)}
		if pc.QuoteGrid != "" {
			grid, err := enrollment.LoadGrid(pc.QuoteGrid)
			if err != nil {
				return nil, err
			}
			opts = append(opts, enrollment.WithGrid(grid))
		}
		return enrollment.NewSimulatedAdapter(opts...), nil
	default:
		return nil, eris.Errorf("unsupported provider mode: %s", pc.Mode)
	}
}

// initLatch returns the lead latch, backed by a Redis marker when
// redis.addr is set and reachable.
func initLatch(ctx context.Context, rc config.RedisConfig) (*latch.Latch, *redis.Client) {
	if rc.Addr == "" {
		return latch.New(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis unavailable, lead latch is process-local", zap.String("addr", rc.Addr), zap.Error(err))
		_ = client.Close()
		return latch.New(), nil
	}
	ttl := time.Duration(rc.LatchTTLSecs) * time.Second
	return latch.New(latch.WithMarker(latch.NewRedisMarker(client, ttl))), client
}

func initSink(ac config.AnalyticsConfig) analytics.Sink {
	if ac.Endpoint == "" {
		return analytics.Nop{}
	}
	return analytics.NewHTTPSink(ac.Endpoint,
		analytics.WithTimeout(time.Duration(ac.TimeoutSecs)*time.Second),
		analytics.WithRetry(resilience.FromRetryConfig(ac.MaxAttempts, 0)),
	)
}
