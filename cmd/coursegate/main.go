package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/config"
	"github.com/platinummonkey/coursegate/pkg/enrollment"
	"github.com/platinummonkey/coursegate/pkg/gateway"
	"github.com/platinummonkey/coursegate/pkg/httputil"
	"github.com/platinummonkey/coursegate/pkg/identity"
	"github.com/platinummonkey/coursegate/pkg/invite"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/rbac"
	"github.com/platinummonkey/coursegate/pkg/risk"
	"github.com/platinummonkey/coursegate/pkg/session"
	"github.com/platinummonkey/coursegate/pkg/sso"
	"github.com/platinummonkey/coursegate/pkg/storage/postgres"
	redisstore "github.com/platinummonkey/coursegate/pkg/storage/redis"
	"github.com/platinummonkey/coursegate/pkg/trust"
)

var (
	migrate       = flag.Bool("migrate", true, "Create missing tables on startup")
	sweepSchedule = flag.String("sweep-schedule", "@every 1m", "Cron schedule for expiring in-memory login counters")
	statsSchedule = flag.String("db-stats-schedule", "@every 15s", "Cron schedule for database pool metrics")
)

// version is set at build time
var version = "dev"

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("coursegate exited with error")
		os.Exit(1)
	}
	logger.Info("coursegate stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:      cfg.Storage.PostgresURL,
		MaxConns: cfg.Storage.PostgresMaxConns,
		MinConns: cfg.Storage.PostgresMinConns,
		Timeout:  cfg.Storage.PostgresTimeout,
	})
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	if *migrate {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	var redisClient *goredis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = redisstore.NewClient(ctx, redisstore.Config{
			URL:      cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			PoolSize: cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*statsSchedule, func() { metrics.UpdateDBStats(db) }); err != nil {
		return fmt.Errorf("invalid db stats schedule: %w", err)
	}
	scheduler.Start()
	shutdown.Register("scheduler", stopCron(scheduler))

	riskStore, err := newRiskStore(cfg, redisClient, logger, shutdown)
	if err != nil {
		return err
	}

	provider, err := sso.NewProvider(ctx, providerConfig(cfg.OAuth))
	if err != nil {
		return fmt.Errorf("failed to configure identity provider: %w", err)
	}

	router, err := newRouter(cfg, db, riskStore, provider, metrics, logger)
	if err != nil {
		return err
	}

	checker := observability.NewHealthChecker(db, redisClient,
		observability.WithVersion(version),
		observability.WithRedisRequired(cfg.Auth.RiskStore == config.RiskStoreRedis),
	)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("http", server.Shutdown)
	shutdown.Register("health", healthServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("coursegate listening on %s", server.Addr)
		return serve(server)
	})
	g.Go(func() error {
		logger.Infof("health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

func stopCron(c *cron.Cron) observability.ShutdownFunc {
	return func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// newRiskStore picks the counter backend. The memory store only holds for a
// single instance and needs its own sweeper.
func newRiskStore(cfg *config.Config, client *goredis.Client, logger *observability.Logger, shutdown *observability.ShutdownManager) (risk.Store, error) {
	if cfg.Auth.RiskStore == config.RiskStoreRedis {
		return risk.NewRedisStore(client, ""), nil
	}

	logger.Warn("using in-process login attempt store; counters are not shared between instances")
	store := risk.NewMemoryStore()
	sweeper, err := risk.NewSweeper(store, *sweepSchedule, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}
	sweeper.Start()
	shutdown.Register("risk-sweeper", stopCron(sweeper))
	return store, nil
}

func providerConfig(c config.OAuthConfig) *sso.Config {
	return &sso.Config{
		Type:         sso.ProviderType(c.Provider),
		IssuerURL:    c.IssuerURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		UserInfoURL:  c.UserInfoURL,
		Scopes:       c.Scopes,
	}
}

func newRouter(cfg *config.Config, db *sql.DB, riskStore risk.Store, provider sso.Provider, metrics *observability.Metrics, logger *observability.Logger) (http.Handler, error) {
	secureCookies := strings.HasPrefix(cfg.Server.BaseURL, "https://")

	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(auditLog, logger, metrics)

	trustStore := trust.NewStore(db)
	evaluator := trust.NewEvaluator(cfg.Auth.InstitutionalDomain, trustStore, cfg.Auth.WhitelistCacheSize, cfg.Auth.WhitelistCacheTTL)
	logger.WithField("institutional_domain", evaluator.Domain()).
		WithField("risk_threshold", cfg.Auth.RiskThreshold).
		Info("trust policy loaded")

	enrollments := enrollment.NewService(db)
	provisioner := identity.NewProvisioner(db, evaluator, enrollments, logger)
	controller := risk.NewController(riskStore, risk.Config{
		Threshold: cfg.Auth.RiskThreshold,
		Window:    cfg.Auth.RiskWindow,
		FailOpen:  cfg.Auth.RiskFailOpen,
	}, logger, metrics)
	sessions := session.NewManager(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL, secureCookies)

	gw := gateway.New(gateway.Deps{
		Classifier:  evaluator,
		Risk:        controller,
		Provisioner: provisioner,
		Courses:     enrollments,
		Recorder:    recorder,
		Metrics:     metrics,
		Logger:      logger,
	})

	invites := invite.NewService(invite.NewSigner(cfg.Auth.InviteSecret), enrollments, cfg.Auth.InviteDefaultTTL, metrics)
	checker := rbac.NewRoleChecker(enrollments)

	authHandlers := gateway.NewHandlers(gw, provider, sessions, provisioner, cfg.Server.FrontendURL, secureCookies)
	trustHandlers := trust.NewHandlers(trustStore, recorder, metrics, cfg.Auth.AccessRequestRate)
	inviteHandlers := invite.NewHandlers(invites, checker, cfg.Server.BaseURL)
	auditHandlers := audit.NewHandlers(auditLog)

	proxies, err := httputil.NewProxyTrust(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware(logger),
		httputil.ClientIPMiddleware(proxies),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.TimeoutMiddleware(cfg.Server.RequestTimeout),
		httputil.MaxBytesMiddleware(1<<20),
		observability.HTTPMetricsMiddleware(metrics),
		sessions.Middleware,
		session.RefreshRole(provisioner),
	)

	authHandlers.RegisterRoutes(router)
	trustHandlers.RegisterPublicRoutes(router)
	inviteHandlers.RegisterRoutes(router)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(session.RequireRole(string(identity.RoleAdmin)))
	authHandlers.RegisterAdminRoutes(admin)
	trustHandlers.RegisterAdminRoutes(admin)
	auditHandlers.RegisterRoutes(admin)

	return otelhttp.NewHandler(router, "coursegate"), nil
}
