package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/adapters/edc"
	"github.com/clinsight/platform/internal/alert"
	"github.com/clinsight/platform/internal/dqi"
	"github.com/clinsight/platform/internal/evaluation"
	"github.com/clinsight/platform/internal/insight"
	"github.com/clinsight/platform/internal/notification"
	"github.com/clinsight/platform/internal/rules"
	"github.com/clinsight/platform/internal/shared/auth"
	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/shared/database"
	"github.com/clinsight/platform/internal/shared/events"
	"github.com/clinsight/platform/internal/shared/logging"
	"github.com/clinsight/platform/internal/shared/metrics"
	secmiddleware "github.com/clinsight/platform/internal/shared/middleware"
	"github.com/clinsight/platform/internal/signal"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    events.EventBus
	Log    zerolog.Logger
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, cfg.Server.Env)
	app := &App{Config: cfg, Log: log}

	// Database is optional: without it the service runs on in-memory stores,
	// which is enough for local development and demos.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, running on in-memory stores")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Warn().Err(err).Msg("migration failed")
		}
	}

	// Event bus: EventStoreDB when enabled, in-process otherwise
	bus, err := events.NewEventBus(ctx, cfg.EventStore, log)
	if err != nil {
		log.Warn().Err(err).Msg("event store not available, using in-process bus")
		bus = events.NewMemoryBus(log)
	}
	app.Bus = bus
	defer bus.Close()

	// Storage
	thresholds := signal.BucketThresholds{
		AgedDays:    cfg.Scoring.QueryAgedDays,
		OverdueDays: cfg.Scoring.QueryOverdueDays,
	}
	var signals signal.Repository
	var history dqi.History
	var alerts alert.Store
	if app.DB != nil {
		signals = signal.NewPostgresRepository(app.DB.Pool, thresholds)
		history = dqi.NewPostgresHistory(app.DB.Pool)
		alerts = alert.NewPostgresStore(app.DB.Pool)
	} else {
		signals = signal.NewMemoryRepository(thresholds)
		history = dqi.NewMemoryHistory()
		alerts = alert.NewMemoryStore()
	}

	// Rule catalog ships with the binary; the store keeps published versions
	// reproducible for historical alerts.
	catalog := rules.BuiltinCatalog(cfg.Scoring)
	if app.DB != nil {
		if err := rules.NewCatalogStore(app.DB.Pool).Seed(ctx, catalog); err != nil {
			log.Warn().Err(err).Msg("rule catalog seeding failed")
		}
	}
	evaluator := rules.NewEvaluator(catalog)
	engine := alert.NewEngine(alerts, evaluator, bus, log)

	// Alert notification egress: console always, webhook when configured
	routes := []notification.Route{
		{Provider: notification.NewConsoleProvider(log), MinSeverity: rules.SeverityLow},
	}
	if cfg.Notification.WebhookURL != "" {
		routes = append(routes, notification.Route{
			Provider:    notification.NewWebhookProvider(cfg.Notification.WebhookURL, cfg.Notification.WebhookTimeout),
			MinSeverity: rules.Severity(cfg.Notification.WebhookMinSeverity),
		})
	}
	dispatcher := notification.NewDispatcher(routes, notification.DefaultConfig(), log)
	if err := dispatcher.Start(ctx, bus); err != nil {
		log.Warn().Err(err).Msg("notification dispatcher failed to start")
	} else {
		defer dispatcher.Stop()
	}

	// Evaluation pipeline
	evalService := evaluation.NewService(signals, history, evaluator, engine, bus, cfg.Scoring.TickWorkers, log)
	scheduler := evaluation.NewScheduler(evalService, cfg.Scoring.TickSchedule, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Error().Err(err).Str("schedule", cfg.Scoring.TickSchedule).Msg("scheduler failed to start")
		os.Exit(1)
	}
	defer scheduler.Stop()

	// EDC extract polling (optional)
	var poller *edc.Poller
	if cfg.EDC.Enabled {
		extractor, err := edc.NewSQLServerExtractor(cfg.EDC)
		if err != nil {
			log.Warn().Err(err).Msg("EDC extractor not available")
		} else {
			defer extractor.Close()
			poller = edc.NewPoller(extractor, signals, cfg.EDC.PollInterval, log)
			poller.Start(ctx)
			defer poller.Stop()
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.NewIPRateLimiter(50, 100).Middleware)
	r.Use(secmiddleware.MaxBodySize(10 << 20))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/signals", signal.NewHandler(signals, log).Routes())
		r.Mount("/dqi", dqi.NewHandler(signals, history, log).Routes())
		r.Mount("/alerts", alert.NewHandler(alerts, engine).Routes())
		r.Mount("/evaluation", evaluation.NewHandler(evalService).Routes())

		// Insight gateway (optional external collaborator)
		if cfg.Insight.Enabled {
			cache := newInsightCache(ctx, app)
			generator := insight.NewHTTPGenerator(cfg.Insight)
			gateway := insight.NewGateway(cache, generator, signals, history, cfg.Insight.CacheTTL, log)
			r.Mount("/insights", insight.NewHandler(gateway).Routes())
			log.Info().Str("url", cfg.Insight.URL).Msg("insight gateway enabled")
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("tick_schedule", cfg.Scoring.TickSchedule).
		Bool("edc", poller != nil).
		Bool("database", app.DB != nil).
		Msg("clinical data quality platform started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	<-done
	log.Info().Msg("server stopped")
}

// newInsightCache picks the best available cache backend: Redis when enabled
// and reachable, the database otherwise, in-process memory as the last resort.
func newInsightCache(ctx context.Context, app *App) insight.Cache {
	if app.Config.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     app.Config.Redis.Addr,
			Password: app.Config.Redis.Password,
			DB:       app.Config.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			app.Log.Warn().Err(err).Msg("redis not available for insight cache")
		} else {
			return insight.NewRedisCache(client)
		}
	}
	if app.DB != nil {
		return insight.NewPostgresCache(app.DB.Pool)
	}
	return insight.NewMemoryCache()
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "ClinSight Data Quality Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
