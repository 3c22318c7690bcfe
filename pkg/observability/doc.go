// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the redback service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal", "alice").Info("assignment saved")
//
// Loggers carried in a context pick up the request ID and principal:
//
//	observability.FromContext(ctx).Debug("resolving roles")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	defer metrics.ObserveDirectory("get_all_roles", time.Now(), err)
//
// All Metrics methods are safe on a nil receiver, so components can be
// constructed without metrics in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, directoryFactory, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// The database and the directory are required; Redis only degrades health.
package observability
