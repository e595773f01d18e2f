package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/safecity/platform/internal/adapters/vehicleregistry"
	"github.com/safecity/platform/internal/audit"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/company"
	"github.com/safecity/platform/internal/dispatch"
	"github.com/safecity/platform/internal/principal"
	reportapi "github.com/safecity/platform/internal/report/api"
	reportinfra "github.com/safecity/platform/internal/report/infrastructure"
	"github.com/safecity/platform/internal/shared/auth"
	"github.com/safecity/platform/internal/shared/config"
	"github.com/safecity/platform/internal/shared/database"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/metrics"
	secmiddleware "github.com/safecity/platform/internal/shared/middleware"
)

// App holds shared application dependencies
type App struct {
	Config   *config.Config
	DB       *database.DB
	Bus      events.EventBus
	Log      *logging.Logger
	Registry *vehicleregistry.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Default()
	defer log.Sync()

	app := &App{Config: cfg, Log: log, Bus: events.NopBus{}}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}

	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(cfg.EventStore.ConnectionString, log)
		if err != nil {
			log.Warnw("event store not available, running without event streaming", "error", err)
		} else {
			app.Bus = bus
			defer bus.Close()
			log.Infow("event bus connected")
		}
	}

	policy := authz.NewEvaluator(cfg.Policy.AllowAll, log)
	if cfg.Policy.AllowAll {
		log.Warnw("policy enforcement disabled, all actions allowed")
	}
	if cfg.Policy.DenialAuditLog {
		policy.AuditDenials(app.Bus)
	}

	// Principals and the resolver used by every handler for actor lookups.
	principalRepo := principal.NewRepository(db.Pool)
	principalCache := principal.NewCache(cfg.Policy.CacheTTL, cfg.Policy.CacheMaxSize)
	resolver := principal.NewResolver(principalRepo, principalCache)
	principalHandler := principal.NewHandler(principalRepo, resolver, policy, app.Bus, log)

	companyRepo := company.NewRepository(db.Pool)
	companyHandler := company.NewHandler(companyRepo, principalRepo, resolver, policy, app.Bus, log)

	reportRepo := reportinfra.NewPostgresRepository(db.Pool)
	reportHandler := reportapi.NewHandler(reportRepo, resolver, policy, app.Bus, log)

	dispatchRepo := dispatch.NewPostgresRepository(db.Pool, reportRepo)
	tracker := dispatch.NewTracker(dispatchRepo, reportRepo, policy, app.Bus, log)
	dispatchHandler := dispatch.NewHandler(tracker, dispatchRepo, resolver)

	auditRepo := audit.NewRepository(db.Pool)
	if err := auditRepo.Initialize(ctx); err != nil {
		log.Fatalw("failed to initialize audit log", "error", err)
	}
	auditHandler := audit.NewHandler(auditRepo)

	auditSubscriber := audit.NewSubscriber(auditRepo, app.Bus, log)
	if err := auditSubscriber.Start(ctx); err != nil {
		log.Warnw("audit subscriber failed to start", "error", err)
	}

	if cfg.Registry.Enabled {
		registryCfg := vehicleregistry.DefaultConfig()
		registryCfg.DSN = cfg.Registry.DSN
		registryCfg.PollInterval = cfg.Registry.PollInterval

		adapter := vehicleregistry.New(registryCfg, log)
		if err := adapter.Start(ctx); err != nil {
			log.Warnw("vehicle registry not available", "error", err)
		} else {
			app.Registry = adapter
			adapter.SubscribeStolenVehicles(ctx, func(event vehicleregistry.StolenVehicleEvent) {
				e := events.NewEvent("registry.vehicle_stolen", "vehicleregistry", event)
				if err := app.Bus.Publish(ctx, e); err != nil {
					log.Warnw("failed to publish registry event", "error", err)
				}
			})
			log.Infow("vehicle registry adapter started", "poll_interval", cfg.Registry.PollInterval)
		}
	}

	limiter := secmiddleware.NewIPRateLimiter(20, 40)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(secmiddleware.InputSanitizer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(auth.Middleware(cfg.Auth))

		r.Mount("/principals", principalHandler.Routes())
		r.Mount("/companies", companyHandler.Routes())
		r.Mount("/reports", reportHandler.Routes())
		r.Mount("/dispatches", dispatchHandler.Routes())
		r.Mount("/audit", auditHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Infow("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if app.Registry != nil {
			if err := app.Registry.Stop(shutdownCtx); err != nil {
				log.Warnw("failed to stop registry adapter", "error", err)
			}
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("server shutdown error", "error", err)
		}
		close(done)
	}()

	log.Infow("server starting",
		"port", cfg.Server.Port,
		"event_store", cfg.EventStore.Enabled,
		"registry", cfg.Registry.Enabled)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("server error", "error", err)
	}

	<-done
	log.Infow("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "SafeCity Community Safety Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if err := app.Bus.Health(); err != nil {
			checks["eventstore"] = "not ready: " + err.Error()
		} else {
			checks["eventstore"] = "ready"
		}

		if app.Registry != nil {
			if err := app.Registry.Health(r.Context()); err != nil {
				checks["registry"] = "not ready: " + err.Error()
			} else {
				checks["registry"] = "ready"
			}
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		readiness := "ready"
		if !allReady {
			readiness = "not ready"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": readiness,
			"checks": checks,
		})
	}
}
