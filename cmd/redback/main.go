package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/redback/pkg/api"
	"github.com/platinummonkey/redback/pkg/async"
	"github.com/platinummonkey/redback/pkg/audit"
	"github.com/platinummonkey/redback/pkg/config"
	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/directory/controller"
	"github.com/platinummonkey/redback/pkg/directory/rolemapper"
	"github.com/platinummonkey/redback/pkg/httputil"
	"github.com/platinummonkey/redback/pkg/middleware"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/rbac/cached"
	"github.com/platinummonkey/redback/pkg/rbac/ldaprbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
	"github.com/platinummonkey/redback/pkg/storage"
	"github.com/platinummonkey/redback/pkg/users"
)

var version = "dev"

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := setupLogger(cfg.Observability.LogLevel)
	if *checkConfig {
		log.Infof("Configuration is valid (%d group mappings, writable=%t)", len(cfg.RBAC.GroupMappings), cfg.RBAC.Writable)
		return
	}
	log.Infof("Starting redback %s", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	db, err := storage.Open(ctx, cfg.Database.Config)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	localStore := sqlstore.New(db, logger, metrics)
	userManager := users.NewSQLManager(db, logger)
	if cfg.Database.MigrateOnStart {
		if err := localStore.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize RBAC store: %v", err)
		}
		if err := userManager.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize user store: %v", err)
		}
	} else {
		log.Warn("Schema migrations disabled; assuming the database is up to date")
	}

	factory, err := directory.NewFactory(cfg.Directory,
		directory.WithLogger(logger),
		directory.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatalf("Invalid directory configuration: %v", err)
	}
	async.SafeGo(ctx, logger, 10*time.Second, "directory probe", factory.Ping)

	mapper := rolemapper.NewLDAPRoleMapper(factory, cfg.RBAC.GroupMappings,
		rolemapper.WithLogger(logger),
		rolemapper.WithMetrics(metrics),
	)
	ldapManager, err := ldaprbac.NewManager(ldaprbac.Config{
		Local:       localStore,
		RoleMapper:  mapper,
		Users:       userManager,
		Connections: factory,
		Controller:  controller.NewLDAPController(logger),
		Writable:    cfg.RBAC.Writable,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		log.Fatalf("Failed to create RBAC manager: %v", err)
	}

	var (
		manager     rbac.Manager = ldapManager
		redisClient *redis.Client
	)
	if cfg.Cache.Enabled {
		cacheCfg := cached.DefaultConfig()
		cacheCfg.Size = cfg.Cache.Size
		cacheCfg.TTL = cfg.Cache.TTL
		if cfg.Cache.Redis.URL != "" {
			redisClient, err = storage.NewRedisClient(ctx, cfg.Cache.Redis)
			if err != nil {
				log.Warnf("Shared cache disabled: %v", err)
				redisClient = nil
			}
			cacheCfg.Redis = redisClient
		}
		manager = cached.New(ldapManager, cacheCfg, logger, metrics)
		log.Infof("RBAC cache enabled (size=%d, ttl=%s, shared=%t)", cacheCfg.Size, cacheCfg.TTL, redisClient != nil)
	}

	apiServer := api.NewServer(manager, logger, metrics)
	if cfg.Server.AuthHeader != "" {
		principals := middleware.NewPrincipalMiddleware(cfg.Server.AuthHeader, false)
		apiServer.Use(httputil.Chain(
			principals.Handler,
			middleware.RequirePermission(rbac.NewChecker(manager), cfg.Server.AdminOperation, rbac.GlobalResourceIdentifier),
		))
		log.Infof("API requires %s on %s via %s", cfg.Server.AdminOperation, rbac.GlobalResourceIdentifier, cfg.Server.AuthHeader)
	} else {
		log.Warn("API authentication disabled (REDBACK_AUTH_HEADER is empty)")
	}

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		dbLogger, err := audit.NewDBLogger(db, logger)
		if err != nil {
			log.Fatalf("Failed to create audit logger: %v", err)
		}
		if cfg.Database.MigrateOnStart {
			if err := dbLogger.Init(ctx); err != nil {
				log.Fatalf("Failed to initialize audit store: %v", err)
			}
		}
		if cfg.Audit.Retention > 0 {
			async.SafeGo(ctx, logger, time.Minute, "audit cleanup", func(ctx context.Context) error {
				removed, err := dbLogger.Cleanup(ctx, cfg.Audit.Retention)
				if err == nil {
					log.Infof("Removed %d audit events older than %s", removed, cfg.Audit.Retention)
				}
				return err
			})
		}

		recorderCfg := audit.DefaultRecorderConfig()
		recorderCfg.Workers = cfg.Audit.Workers
		recorder = audit.NewRecorder(context.Background(), audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger)), recorderCfg, logger)
		localStore.AddListener(recorder)
		apiServer.RegisterRoutes(api.NewAuditHandlers(dbLogger))
	}
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter(db, redisClient, factory, registry, cfg.Observability.MetricsEnabled),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if recorder != nil {
		shutdown.Register("audit", func(context.Context) error { return recorder.Close(5 * time.Second) })
	}
	shutdown.Register("health server", healthServer.Shutdown)

	go serve(log, "health", healthServer)
	go serve(log, "api", server)
	log.Infof("Serving API on %s and health/metrics on %s", server.Addr, healthServer.Addr)

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		log.Errorf("Shutdown completed with errors: %v", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func setupLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level.String())
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

func healthRouter(db *sql.DB, redisClient *redis.Client, probe observability.DirectoryProbe, registry *prometheus.Registry, metricsEnabled bool) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, probe, version))
	if metricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}
	return router
}

func serve(log *logrus.Logger, name string, server *http.Server) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("%s server failed: %v", name, err)
	}
}
