package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/audit"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/config"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/grants"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/lifecycle"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/lifecycle/executor"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/middleware"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/observability"
	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.LogLevel, os.Stdout)
	log.WithFields(logrus.Fields{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
	}).Info("starting warden")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := space.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable at startup, continuing degraded")
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	policies, err := loadPolicies(cfg.PolicyPath)
	if err != nil {
		return err
	}

	roleStore := space.NewStore(db, catalog, log)
	grantStore := grants.NewStore(db, catalog, log)
	if len(cfg.SeedSpaces) > 0 {
		if err := space.InitializeDefaultRoles(ctx, roleStore, cfg.SeedSpaces); err != nil {
			return fmt.Errorf("failed to seed default roles: %w", err)
		}
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	var resolverOpts []grants.ResolverOption
	if cfg.Resolver.CacheEnabled {
		resolverOpts = append(resolverOpts,
			grants.WithCache(cfg.Resolver.CacheSize, cfg.Resolver.CacheTTL),
			grants.WithCacheMetrics(metrics.CacheHitsTotal, metrics.CacheMissesTotal))
	}
	resolver := grants.NewResolver(grantStore, roleStore, log, resolverOpts...)
	roleStore.SetInvalidator(resolver)
	grantStore.SetInvalidator(resolver)

	dbSink, err := audit.NewDBSink(db)
	if err != nil {
		return fmt.Errorf("failed to initialize audit storage: %w", err)
	}
	auditSink, err := buildAuditSink(cfg, dbSink)
	if err != nil {
		return err
	}
	defer auditSink.Close()

	registry, err := executor.NewRegistry(
		executor.NewTwoFactorResetExecutor(db, redisClient, log),
	)
	if err != nil {
		return fmt.Errorf("failed to build executor registry: %w", err)
	}

	requestStore := lifecycle.NewStore(db, log)
	manager := lifecycle.NewManager(requestStore, resolver, policies, auditSink, registry, log,
		lifecycle.WithExecutionTimeout(cfg.Lifecycle.ExecutionTimeout),
		lifecycle.WithMetrics(metrics))

	sweeper, err := lifecycle.NewSweeper(manager, cfg.Lifecycle.SweepSchedule, log)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	health := observability.NewHealthChecker(db, redisClient)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      buildRouter(cfg, manager, dbSink, roleStore, grantStore, resolver, redisClient, metrics, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	healthMux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				stats := db.Stats()
				metrics.DBConnectionsActive.Set(float64(stats.InUse))
				metrics.DBConnectionsIdle.Set(float64(stats.Idle))
				if n, err := manager.PendingCount(groupCtx); err == nil {
					metrics.PendingRequests.Set(float64(n))
				}
			}
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("api server shutdown failed")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildRouter(cfg *config.Config, manager *lifecycle.Manager, dbSink *audit.DBSink, roleStore *space.Store, grantStore *grants.Store, resolver *grants.Resolver, redisClient *redis.Client, metrics *observability.Metrics, log *logrus.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(metrics.RouteMiddleware)
	lifecycle.NewHandlers(manager).RegisterRoutes(router)
	audit.NewHandlers(dbSink).RegisterRoutes(router, resolver)
	space.NewHandlers(roleStore, dbSink, log).RegisterRoutes(router, resolver)
	grants.NewHandlers(grantStore, roleStore, dbSink, log).RegisterRoutes(router, resolver)

	limiter := middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Lifecycle.RateLimitPerMin,
		WindowDuration:    time.Minute,
	}, log)

	var handler http.Handler = router
	handler = limiter.Handler(handler)
	handler = middleware.NewActorMiddleware().Handler(handler)
	handler = middleware.LoggingMiddleware(log)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}

func loadCatalog(path string) (*capability.Catalog, error) {
	if path == "" {
		return capability.DefaultCatalog(), nil
	}
	catalog, err := capability.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load capability catalog: %w", err)
	}
	return catalog, nil
}

func loadPolicies(path string) (*lifecycle.PolicyTable, error) {
	if path == "" {
		return lifecycle.NewPolicyTable(lifecycle.DefaultPolicies())
	}
	policies, err := lifecycle.LoadPolicies(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy table: %w", err)
	}
	return policies, nil
}

// buildAuditSink returns the database sink, optionally fanned out to a
// JSON-lines file sink. The result still satisfies audit.TxSink because
// transition audits always go to the database member.
func buildAuditSink(cfg *config.Config, dbSink *audit.DBSink) (audit.TxSink, error) {
	if cfg.Audit.FileDir == "" {
		return dbSink, nil
	}
	fileSink, err := audit.NewFileSink(audit.FileSinkConfig{
		Dir:     cfg.Audit.FileDir,
		MaxSize: cfg.Audit.FileMaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit file sink: %w", err)
	}
	return audit.NewTxMultiSink(dbSink, fileSink), nil
}
