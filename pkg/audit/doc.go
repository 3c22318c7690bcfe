// Package audit records a trail of RBAC changes.
//
// A Recorder is registered as an rbac.Listener on the local store. Every role,
// permission and assignment change becomes an Event that a background worker
// pool hands to a Logger:
//
//	dbLogger, _ := audit.NewDBLogger(db, logger)
//	dbLogger.Init(ctx)
//	recorder := audit.NewRecorder(ctx, audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger)),
//		audit.DefaultRecorderConfig(), logger)
//	store.AddListener(recorder)
//	defer recorder.Close(5 * time.Second)
//
// DBLogger stores events in the audit_events table and serves Search, which
// the admin API exposes at GET /rbac/audit.
package audit
