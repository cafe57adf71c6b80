// Package app provides application-level coordination and dependency injection.
// It orchestrates the initialization of one WIP server role's UDP listener,
// HTTP side channel, and shared infrastructure, managing their lifecycles
// following dependency inversion principles.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sean-rowe/wip-server/internal/adapters/primary/udp"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/codecatalog"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/geoindex"
	"github.com/sean-rowe/wip-server/internal/adapters/secondary/wipclient"
	"github.com/sean-rowe/wip-server/internal/config"
	"github.com/sean-rowe/wip-server/internal/core/codec"
	"github.com/sean-rowe/wip-server/internal/core/domain"
	"github.com/sean-rowe/wip-server/internal/core/ports"
	"github.com/sean-rowe/wip-server/internal/core/services"
	"github.com/sean-rowe/wip-server/internal/infrastructure/cache"
	"github.com/sean-rowe/wip-server/internal/infrastructure/circuitbreaker"
	"github.com/sean-rowe/wip-server/internal/infrastructure/database"
	"github.com/sean-rowe/wip-server/internal/infrastructure/ratelimit"
	"github.com/sean-rowe/wip-server/internal/middleware"
	"github.com/sean-rowe/wip-server/internal/observability"
	"github.com/sean-rowe/wip-server/internal/version"
)

// Role names selecting which WIP server this process runs.
const (
	RoleWeather  = "weather"
	RoleLocation = "location"
	RoleQuery    = "query"
	RoleReport   = "report"
)

// App manages the lifecycle and dependencies of a single WIP server role:
// its UDP listener plus an HTTP side channel for health/version/stats.
type App struct {
	role   string
	cfg    *config.Config
	logger *zap.Logger

	telemetry   *observability.Telemetry
	db          *database.PostgresDB
	audit       ports.AuditRepository
	rateLimiter ports.RateLimitService
	udpServer   *udp.Server
	httpServer  *http.Server
	wipClient   *wipclient.Client
}

// New creates a new application instance for the given role.
//
// Returns:
//   - *App: Configured application instance
//   - error: Logger initialization or unknown-role error
func New(role string) (*App, error) {
	switch role {
	case RoleWeather, RoleLocation, RoleQuery, RoleReport:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &App{
		role:   role,
		cfg:    config.Load(),
		logger: logger,
	}, nil
}

// Start initializes and starts all application components for this role.
//
// Parameters:
//   - ctx: Context for initialization
//
// Returns:
//   - error: Server start error
func (a *App) Start(ctx context.Context) error {
	if err := a.initTelemetry(ctx); err != nil {
		a.logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}

	if err := a.initDatabase(); err != nil {
		a.logger.Warn("failed to connect to database, continuing without audit logging", zap.Error(err))
	} else if a.db != nil {
		a.audit = a.db
	}

	a.rateLimiter = a.buildRateLimiter(ctx)

	roleCfg, handler, err := a.buildHandler(ctx)
	if err != nil {
		return fmt.Errorf("building %s handler: %w", a.role, err)
	}

	a.udpServer = &udp.Server{
		Role:       domain.Role(a.role),
		Addr:       ":" + roleCfg.UDPPort,
		Workers:    roleCfg.Workers,
		RequestTTL: roleCfg.RequestTTL,
		Handler:    handler,
		Logger:     a.logger,
	}

	if err := a.udpServer.Start(); err != nil {
		return fmt.Errorf("starting udp server: %w", err)
	}

	router := a.setupRouter()

	a.httpServer = &http.Server{
		Addr:    ":" + roleCfg.MetricsPort,
		Handler: router,
	}

	go func() {
		a.logger.Info("starting http side channel",
			zap.String("role", a.role),
			zap.String("port", roleCfg.MetricsPort))

		if err := a.httpServer.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http side channel failed", zap.Error(err))
			}
		}
	}()

	return nil
}

// buildHandler wires the role-specific service, store, and auth
// configuration and returns the role's UDP port config and HandlerFunc.
func (a *App) buildHandler(ctx context.Context) (config.RoleConfig, udp.HandlerFunc, error) {
	switch a.role {
	case RoleWeather:
		return a.buildWeatherHandler()
	case RoleLocation:
		return a.buildLocationHandler()
	case RoleQuery:
		return a.buildQueryHandler(ctx)
	case RoleReport:
		return a.buildReportHandler(ctx)
	default:
		return config.RoleConfig{}, nil, fmt.Errorf("unknown role %q", a.role)
	}
}

func (a *App) buildWeatherHandler() (config.RoleConfig, udp.HandlerFunc, error) {
	client, err := wipclient.New(a.logger)
	if err != nil {
		return config.RoleConfig{}, nil, fmt.Errorf("opening upstream client: %w", err)
	}
	a.wipClient = client

	cbManager := circuitbreaker.NewManager(a.logger)
	cbConfig := circuitbreaker.Config{
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	}

	locationClient := wipclient.NewBreakingClient(client, cbManager.GetBreaker("location-hop", cbConfig), "location-hop")
	queryClient := wipclient.NewBreakingClient(client, cbManager.GetBreaker("query-hop", cbConfig), "query-hop")

	handler := &udp.WeatherHandler{
		Pipeline:        services.NewWeatherPipeline(a.logger),
		IDGen:           codec.NewIDGenerator(),
		LocationClient:  locationClient,
		LocationAddr:    a.cfg.LocationUpstreamAddr,
		LocationTimeout: a.cfg.LocationTimeout,
		QueryClient:     queryClient,
		QueryAddr:       a.cfg.QueryUpstreamAddr,
		QueryTimeout:    a.cfg.QueryTimeout,
		ClientAuth: &udp.AuthConfig{
			Enabled:    a.cfg.Auth.WeatherEnabled,
			Passphrase: a.cfg.Auth.WeatherPassphrase,
			MaxSkew:    a.cfg.MaxAuthSkew,
		},
		UpstreamAuth: &udp.AuthConfig{
			Enabled:    a.cfg.Auth.LocationEnabled || a.cfg.Auth.QueryEnabled,
			Passphrase: a.cfg.Auth.LocationPassphrase,
			MaxSkew:    a.cfg.MaxAuthSkew,
		},
		Audit:  a.audit,
		Logger: a.logger,
	}

	return a.cfg.Weather, handler.Handle, nil
}

func (a *App) buildLocationHandler() (config.RoleConfig, udp.HandlerFunc, error) {
	fixturePath := os.Getenv("WIP_GEOINDEX_FIXTURE")

	var index *geoindex.Index
	var err error

	if fixturePath != "" {
		index, err = geoindex.LoadFile(fixturePath)
		if err != nil {
			return config.RoleConfig{}, nil, fmt.Errorf("loading geoindex fixture: %w", err)
		}
	} else {
		index = geoindex.New(nil)
		a.logger.Warn("no WIP_GEOINDEX_FIXTURE set, Location server will resolve nothing")
	}

	handler := &udp.LocationHandler{
		Service: services.NewLocationService(index, a.logger),
		Auth: &udp.AuthConfig{
			Enabled:    a.cfg.Auth.LocationEnabled,
			Passphrase: a.cfg.Auth.LocationPassphrase,
			MaxSkew:    a.cfg.MaxAuthSkew,
		},
		Logger: a.logger,
		Audit:  a.audit,
	}

	return a.cfg.Location, handler.Handle, nil
}

func (a *App) buildQueryHandler(ctx context.Context) (config.RoleConfig, udp.HandlerFunc, error) {
	store, err := a.buildAreaStore(ctx)
	if err != nil {
		return config.RoleConfig{}, nil, err
	}

	handler := &udp.QueryHandler{
		Service: services.NewQueryService(store, a.logger),
		Auth: &udp.AuthConfig{
			Enabled:    a.cfg.Auth.QueryEnabled,
			Passphrase: a.cfg.Auth.QueryPassphrase,
			MaxSkew:    a.cfg.MaxAuthSkew,
		},
		Logger: a.logger,
		Audit:  a.audit,
	}

	return a.cfg.Query, handler.Handle, nil
}

func (a *App) buildReportHandler(ctx context.Context) (config.RoleConfig, udp.HandlerFunc, error) {
	store, err := a.buildAreaStore(ctx)
	if err != nil {
		return config.RoleConfig{}, nil, err
	}

	fixturePath := os.Getenv("WIP_CODECATALOG_FIXTURE")

	var catalog *codecatalog.Catalog

	if fixturePath != "" {
		catalog, err = codecatalog.LoadFile(fixturePath)
		if err != nil {
			return config.RoleConfig{}, nil, fmt.Errorf("loading code catalog fixture: %w", err)
		}
	} else {
		catalog = codecatalog.New(nil)
		a.logger.Warn("no WIP_CODECATALOG_FIXTURE set, Report server will reject all weather_code values")
	}

	handler := &udp.ReportHandler{
		Service: services.NewReportService(store, catalog, a.logger),
		Auth: &udp.AuthConfig{
			Enabled:    a.cfg.Auth.ReportEnabled,
			Passphrase: a.cfg.Auth.ReportPassphrase,
			MaxSkew:    a.cfg.MaxAuthSkew,
		},
		Logger: a.logger,
		Audit:  a.audit,
	}

	return a.cfg.Report, handler.Handle, nil
}

// buildAreaStore initializes the Redis-backed area store, falling back
// to an in-memory store if Redis is disabled or unreachable.
func (a *App) buildAreaStore(ctx context.Context) (ports.AreaStore, error) {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis disabled, using memory-based area store")
		return cache.NewMemoryAreaStore(5*time.Minute, 10*time.Minute, a.logger), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		MinIdleConns: a.cfg.Redis.MinIdleConns,
		MaxRetries:   a.cfg.Redis.MaxRetries,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		a.logger.Warn("Redis connection failed, falling back to memory-based area store", zap.Error(err))
		return cache.NewMemoryAreaStore(5*time.Minute, 10*time.Minute, a.logger), nil
	}

	a.logger.Info("Redis connected successfully")

	store, err := cache.NewRedisAreaStore(cache.Config{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		MinIdleConns: a.cfg.Redis.MinIdleConns,
		MaxRetries:   a.cfg.Redis.MaxRetries,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
		RecordTTL:    a.cfg.Redis.RecordTTL,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing redis area store: %w", err)
	}

	return store, nil
}

// buildRateLimiter initializes a Redis-backed rate limiter for the HTTP
// side channel, falling back to an in-memory one if Redis is disabled
// or unreachable.
func (a *App) buildRateLimiter(ctx context.Context) ports.RateLimitService {
	if !a.cfg.Redis.Enabled {
		return middleware.NewMemoryRateLimiter(a.logger)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         a.cfg.Redis.Addr,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		PoolSize:     a.cfg.Redis.PoolSize,
		MinIdleConns: a.cfg.Redis.MinIdleConns,
		MaxRetries:   a.cfg.Redis.MaxRetries,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		a.logger.Warn("Redis connection failed, falling back to memory-based rate limiter", zap.Error(err))
		return middleware.NewMemoryRateLimiter(a.logger)
	}

	return ratelimit.NewRedisRateLimiter(redisClient, a.logger)
}

// Stop gracefully shuts down all application components.
func (a *App) Stop() {
	a.logger.Info("shutting down application...", zap.String("role", a.role))

	if a.udpServer != nil {
		a.udpServer.Stop()
	}

	if a.wipClient != nil {
		if err := a.wipClient.Close(); err != nil {
			a.logger.Error("failed to close upstream client", zap.Error(err))
		}
	}

	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown http side channel gracefully", zap.Error(err))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database connection", zap.Error(err))
		}
	}

	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown telemetry", zap.Error(err))
		}
	}

	if err := a.logger.Sync(); err != nil {
		// Sync can fail on some platforms, ignore the error
		_ = err
	}
}

// WaitForShutdown blocks until the process receives a shutdown signal.
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	a.logger.Info("shutdown signal received")
}

// initTelemetry initializes OpenTelemetry providers.
func (a *App) initTelemetry(ctx context.Context) error {
	telemetryConfig := observability.Config{
		ServiceName:    a.cfg.Observability.ServiceName + "-" + a.role,
		ServiceVersion: a.cfg.Observability.ServiceVersion,
		Environment:    a.cfg.Observability.Environment,
		OTLPEndpoint:   a.cfg.Observability.OTLPEndpoint,
		SampleRate:     a.cfg.Observability.SampleRate,
	}

	var err error
	a.telemetry, err = observability.InitTelemetry(ctx, telemetryConfig, a.logger)

	return err
}

// initDatabase initializes the PostgreSQL audit store.
func (a *App) initDatabase() error {
	if !a.cfg.Database.Enabled {
		return nil
	}

	dbConfig := database.Config{
		Host:                  a.cfg.Database.Host,
		Port:                  a.cfg.Database.Port,
		User:                  a.cfg.Database.User,
		Password:              a.cfg.Database.Password,
		Database:              a.cfg.Database.Database,
		SSLMode:               a.cfg.Database.SSLMode,
		MaxConnections:        a.cfg.Database.MaxConnections,
		MaxIdleConnections:    a.cfg.Database.MaxIdleConnections,
		ConnectionMaxLifetime: a.cfg.Database.ConnectionMaxLifetime,
	}

	var err error
	a.db, err = database.NewPostgresDB(dbConfig, a.logger)

	return err
}

// setupRouter creates the HTTP side channel: health, version, and a
// rate-limited stats endpoint backed by the audit repository. Prometheus
// scrapes metrics through the OTel collector rather than a local
// handler here.
func (a *App) setupRouter() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(version.Get()); err != nil {
			a.logger.Error("failed to encode version info", zap.Error(err))
		}
	}).Methods("GET")

	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if a.audit == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		stats, err := a.audit.GetStats(r.Context(), time.Now().Add(-24*time.Hour))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}).Methods("GET")

	if a.telemetry != nil {
		obsMiddleware := middleware.NewObservabilityMiddleware(a.telemetry, a.logger)
		router.Use(obsMiddleware.TracingMiddleware)
		router.Use(obsMiddleware.MetricsMiddleware)
	}

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(a.rateLimiter, a.cfg.RateLimit.RPS, a.cfg.RateLimit.Window, a.logger)
	router.Use(rateLimitMiddleware.Middleware)

	return router
}
