// Package history persists poll and command outcomes to SQLite.
//
// Two tables back it (see the migrations package):
//
//	poll_history   one row per recorded update, newest first on read
//	device_status  last known status per endpoint, upserted
//
// A Recorder subscribes to coordinator updates and decides what is worth
// keeping: every command, every failure, every availability transition
// and every poll that changed at least one field. Unchanged successful
// polls only refresh device_status.
//
// Usage:
//
//	repo := history.NewSQLiteRepository(db)
//	rec := history.NewRecorder(repo, history.WithRetention(30*24*time.Hour))
//	manager.SubscribeAll(rec.Handle)
//	go rec.Run(ctx)
package history
