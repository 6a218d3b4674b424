// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/sentinel/internal/api"
	"github.com/bissquit/sentinel/internal/config"
	"github.com/bissquit/sentinel/internal/events"
	"github.com/bissquit/sentinel/internal/incidents"
	"github.com/bissquit/sentinel/internal/investigation"
	"github.com/bissquit/sentinel/internal/monitor"
	"github.com/bissquit/sentinel/internal/notify"
	persistencepostgres "github.com/bissquit/sentinel/internal/persistence/postgres"
	"github.com/bissquit/sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/sentinel/internal/pkg/httputil"
	"github.com/bissquit/sentinel/internal/pkg/metrics"
	"github.com/bissquit/sentinel/internal/pkg/postgres"
	"github.com/bissquit/sentinel/internal/prober"
	"github.com/bissquit/sentinel/internal/quickcheck"
	"github.com/bissquit/sentinel/internal/registry"
	"github.com/bissquit/sentinel/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server

	registry     *registry.Registry
	store        *incidents.Store
	hub          *events.Hub
	orchestrator *monitor.Orchestrator

	// bgCancel stops the orchestrator, hub and metrics collectors.
	bgCancel context.CancelFunc
	bgDone   sync.WaitGroup
}

// New creates a new application instance. A missing database URL runs
// the process in-memory only.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	app := &App{
		config: cfg,
		logger: logger,
	}

	var repo *persistencepostgres.Repository
	if cfg.Database.URL != "" {
		connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.db = db
		repo = persistencepostgres.NewRepository(db)
	} else {
		logger.Warn("database URL is empty: state will not survive restarts")
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app.bgCancel = bgCancel

	notifier := events.NewNotifier()
	app.hub = events.NewHub()
	notifier.Register(app.hub)

	app.registry = registry.New()
	if repo != nil {
		if err := reloadRegistry(bgCtx, app.registry, repo); err != nil {
			bgCancel()
			app.db.Close()
			return nil, fmt.Errorf("reload services: %w", err)
		}
	}

	app.store = incidents.NewStore(notifier, cfg.Monitor.StaleAfter)

	var channel incidents.NotificationChannel
	if cfg.Notifications.SlackWebhookURL != "" {
		channel = notify.NewSlackChannel(notify.SlackConfig{
			WebhookURL: cfg.Notifications.SlackWebhookURL,
			Username:   cfg.Notifications.SlackUsername,
			IconEmoji:  cfg.Notifications.SlackIconEmoji,
		})
	} else {
		logger.Warn("slack webhook is empty: incident alerts will not be sent")
	}

	var investigator incidents.Investigator
	if cfg.Investigation.URL != "" {
		investigator = investigation.NewClient(investigation.Config{
			URL:     cfg.Investigation.URL,
			Token:   cfg.Investigation.Token,
			Timeout: cfg.Investigation.Timeout,
		})
	} else {
		logger.Warn("investigation URL is empty: incidents will stay in the investigating state")
	}

	var persistenceStore incidents.PersistenceStore
	if repo != nil {
		persistenceStore = repo
	}
	pipeline := incidents.NewPipeline(app.store, channel, investigator, persistenceStore, cfg.Monitor.InvestigationTimeout)

	p := prober.New(prober.Config{Timeout: cfg.Monitor.ProbeTimeout})

	app.orchestrator = monitor.New(monitor.Config{
		Interval:     cfg.Monitor.DefaultInterval,
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		MaxProbes:    cfg.Monitor.MaxProbes,
	}, app.registry, p, app.store, pipeline, notifier)

	var (
		serviceWriter  api.ServiceWriter
		incidentReader api.IncidentReader
	)
	if repo != nil {
		serviceWriter = repo
		incidentReader = repo
	}
	router := app.setupRouter(p, notifier, serviceWriter, incidentReader)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	app.startBackground(bgCtx)

	return app, nil
}

// startBackground launches the monitoring loop, the WebSocket hub and
// the metrics collectors.
func (a *App) startBackground(ctx context.Context) {
	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		a.orchestrator.Run(ctx)
	}()

	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		a.hub.Run(ctx)
	}()

	if a.db != nil {
		a.bgDone.Add(1)
		go func() {
			defer a.bgDone.Done()
			a.collectDBMetrics(ctx)
		}()
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop the monitoring loop and hub first so no new incidents or
	// pushes race the server shutdown.
	a.bgCancel()
	a.bgDone.Wait()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(p *prober.Prober, notifier *events.Notifier, serviceWriter api.ServiceWriter, incidentReader api.IncidentReader) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	// WebSocket connections are long-lived; keep them out of the
	// request timeout group.
	r.Get("/ws/monitor", a.hub.ServeWS)

	apiHandler := api.NewHandler(a.registry, a.store, notifier, serviceWriter, incidentReader)
	quickcheckHandler := quickcheck.NewHandler(p)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		apiHandler.RegisterRoutes(r)
		quickcheckHandler.RegisterRoutes(r)
	})

	return r
}

// reloadRegistry restores monitored services from the database so a
// restart does not lose the monitoring set.
func reloadRegistry(ctx context.Context, reg *registry.Registry, repo *persistencepostgres.Repository) error {
	services, err := repo.ListServices(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		reg.Restore(svc)
	}
	if len(services) > 0 {
		slog.Info("restored services from database", "count", len(services))
	}
	return nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
