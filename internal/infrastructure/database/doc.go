// Package database provides SQLite connectivity for the purifier bridge.
//
// The bridge keeps a small local store: the last known status of every
// endpoint and a bounded poll history. This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Connection pool and lifecycle
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is created with 0600 permissions
//   - Device secrets are never stored; only status and history
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive. New columns must be NULLABLE or carry a DEFAULT,
// and every .up.sql should ship with a .down.sql so that DB.Rollback (and
// "purifierbridge migrate down") can revert it. DB.Status lists applied
// and pending versions.
package database
