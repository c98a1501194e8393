package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_120000_readings.up.sql": {Data: []byte(`
			CREATE TABLE readings (
				id INTEGER PRIMARY KEY,
				device_id TEXT NOT NULL,
				pm25 INTEGER
			) STRICT;`)},
		"20260301_120000_readings.down.sql": {Data: []byte(`DROP TABLE readings;`)},
		"20260302_090000_reading_index.up.sql": {Data: []byte(`
			CREATE INDEX idx_readings_device ON readings(device_id);`)},
		"20260302_090000_reading_index.down.sql": {Data: []byte(`DROP INDEX idx_readings_device;`)},
		"README.md": {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query error: %v", err)
	}
	return count > 0
}

// TestMigrate verifies migration application and idempotence.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fsys := testMigrations()
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "readings") || !tableExists(t, db, "idx_readings_device") {
		t.Fatal("migrations were not applied")
	}

	status, err := db.Status(ctx, fsys)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	applied := status.Applied
	if len(applied) != 2 || len(status.Pending) != 0 {
		t.Fatalf("applied = %d pending = %d, want 2 and 0", len(applied), len(status.Pending))
	}
	if applied[0].Version != "20260301_120000" || applied[1].Version != "20260302_090000" {
		t.Errorf("applied order = %v", applied)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestRollback verifies the newest migration is reverted first.
func TestRollback(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := testMigrations()
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	steps := []struct {
		wantVersion string
		wantTables  map[string]bool
	}{
		{"20260302_090000", map[string]bool{"readings": true, "idx_readings_device": false}},
		{"20260301_120000", map[string]bool{"readings": false}},
		{"", map[string]bool{"readings": false}},
	}
	for i, step := range steps {
		version, err := db.Rollback(ctx, fsys)
		if err != nil {
			t.Fatalf("Rollback() #%d error = %v", i+1, err)
		}
		if version != step.wantVersion {
			t.Errorf("Rollback() #%d = %q, want %q", i+1, version, step.wantVersion)
		}
		for table, want := range step.wantTables {
			if got := tableExists(t, db, table); got != want {
				t.Errorf("after rollback #%d, %s exists = %v, want %v", i+1, table, got, want)
			}
		}
	}

	status, err := db.Status(ctx, fsys)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Applied) != 0 || len(status.Pending) != 2 {
		t.Errorf("status after rollback = %+v", status)
	}
}

// TestRollbackWithoutDownSQL verifies a migration without down SQL stays.
func TestRollbackWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260301_120000_readings.up.sql": {Data: []byte(`CREATE TABLE readings (id INTEGER);`)},
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.Rollback(ctx, fsys); err == nil {
		t.Error("Rollback() without down SQL should fail")
	}
	if !tableExists(t, db, "readings") {
		t.Error("readings dropped by a failed rollback")
	}
}

// TestRollbackMissingFile verifies an applied migration must still exist.
func TestRollbackMissingFile(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.Rollback(ctx, fstest.MapFS{}); err == nil {
		t.Error("Rollback() with the migration file gone should fail")
	}
}

// TestMigrateFailureRollsBack verifies a failing migration leaves earlier
// ones committed and records nothing for itself.
func TestMigrateFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260301_120000_readings.up.sql": {Data: []byte(`CREATE TABLE readings (id INTEGER);`)},
		"20260302_090000_broken.up.sql":   {Data: []byte(`CREATE TABLE broken (;`)},
	}
	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() with broken SQL should fail")
	}

	status, err := db.Status(ctx, fsys)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Applied) != 1 || len(status.Pending) != 1 || status.Pending[0].Name != "broken" {
		t.Errorf("status = %+v", status)
	}
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(ctx, fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

// TestLoadMigrationsOrphanDown verifies a down file needs an up file.
func TestLoadMigrationsOrphanDown(t *testing.T) {
	fsys := fstest.MapFS{
		"20260301_120000_readings.down.sql": {Data: []byte(`DROP TABLE readings;`)},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Error("loadMigrations() with orphan down file should fail")
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOk   bool
	}{
		{"20260301_120000_poll_history.up.sql", migrationFile{"20260301_120000", "poll_history", true}, true},
		{"20260301_120000_device_status.down.sql", migrationFile{"20260301_120000", "device_status", false}, true},
		{"20260301_120000.up.sql", migrationFile{"20260301_120000", "20260301_120000", true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20260301_120000_poll_history.sql", migrationFile{}, false},
		{"invalid.up.sql", migrationFile{}, false},
		{"20260301__x.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("parseMigrationFilename(%q) = %+v, want %+v", tt.filename, got, tt.want)
			}
		})
	}
}
