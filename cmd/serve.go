package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/config"
	"github.com/sells-group/enroll-cli/internal/flow"
	"github.com/sells-group/enroll-cli/internal/store"
)

var (
	servePort int
	serveLive bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API and the enrollment flow endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve", serveLive)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		reg := env.Registry()
		go reg.RunSweeper(ctx, cfg.Flow.SweepInterval(), cfg.Flow.IdleEvict())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Store, reg, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("provider_mode", cfg.Provider.Mode),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the session API and the flow endpoints.
func buildRouter(st store.Store, reg *flow.Registry, sc config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := sc.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{store: st, flows: reg}
	r.Group(func(r chi.Router) {
		if sc.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(sc.RateLimitPerMin, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
				}),
			))
		}

		r.Post("/sessions", h.createSession)
		r.Get("/sessions", h.listSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Patch("/", h.patchSession)
			r.Get("/transitions", h.listTransitions)

			r.Post("/lead", h.acquireLead)
			r.Post("/lead/retry", h.retryLead)
			r.Post("/lead/resume", h.resumeSession)
			r.Post("/lead/start-over", h.startOver)
			r.Get("/quote", h.getQuote)
			r.Post("/quote/select", h.selectPlan)
			r.Post("/quote/confirm", h.confirmQuote)
			r.Post("/details", h.submitDetails)
			r.Post("/payment/message", h.receivePayment)
			r.Post("/payment/confirm", h.confirmPayment)
			r.Post("/edit", h.edit)
			r.Post("/step", h.stepChanged)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveLive, "live", false, "use the live provider regardless of provider.mode")
	rootCmd.AddCommand(serveCmd)
}
