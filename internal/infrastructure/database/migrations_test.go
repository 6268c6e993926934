package database

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
)

// benchMigrations is a two-step history: a calibration table, then an
// index on it.
func benchMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261001_090000_calibrations.up.sql": {Data: []byte(
			"CREATE TABLE bench_calibrations (gas TEXT PRIMARY KEY, points TEXT NOT NULL) STRICT;")},
		"20261001_090000_calibrations.down.sql": {Data: []byte(
			"DROP TABLE IF EXISTS bench_calibrations;")},
		"20261002_120000_calibration_points_index.up.sql": {Data: []byte(
			"CREATE INDEX idx_bench_points ON bench_calibrations(points);")},
		"20261002_120000_calibration_points_index.down.sql": {Data: []byte(
			"DROP INDEX IF EXISTS idx_bench_points;")},
		"README.md": {Data: []byte("ignored")},
	}
}

// useMigrations swaps the registered source for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	prev := registeredMigrations()
	RegisterMigrations(fsys)
	t.Cleanup(func() { RegisterMigrations(prev) })
}

func objectExists(t *testing.T, db *DB, kind, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, benchMigrations())
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	n, err := db.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	if !objectExists(t, db, "table", "bench_calibrations") {
		t.Error("bench_calibrations not created")
	}
	if !objectExists(t, db, "index", "idx_bench_points") {
		t.Error("idx_bench_points not created")
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if got := status.Current(); got != "20261002_120000" {
		t.Errorf("Current() = %q, want 20261002_120000", got)
	}

	// A second run finds nothing to do.
	n, err = db.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	fsys := benchMigrations()
	fsys["20261003_080000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}
	useMigrations(t, fsys)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	n, err := db.Migrate(ctx)
	if err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d before failing, want 2", n)
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Pending) != 1 || status.Pending[0].Name != "broken" {
		t.Errorf("Pending = %+v, want only the broken step", status.Pending)
	}
}

func TestRollback(t *testing.T) {
	useMigrations(t, benchMigrations())
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if objectExists(t, db, "index", "idx_bench_points") {
		t.Error("index should be dropped after first rollback")
	}
	if !objectExists(t, db, "table", "bench_calibrations") {
		t.Error("table should survive the first rollback")
	}

	if err := db.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback() error = %v", err)
	}
	if objectExists(t, db, "table", "bench_calibrations") {
		t.Error("table should be dropped after second rollback")
	}

	// Nothing left to revert.
	if err := db.Rollback(ctx); err != nil {
		t.Errorf("Rollback() on fresh schema error = %v", err)
	}
}

func TestRollbackWithoutDownScript(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_090000_oneway.up.sql": {Data: []byte("CREATE TABLE oneway (id INTEGER);")},
	})
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx); !errors.Is(err, ErrNoDownMigration) {
		t.Errorf("Rollback() error = %v, want ErrNoDownMigration", err)
	}
}

func TestMigrateWithoutSource(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	n, err := db.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Migrate() applied %d, want 0", n)
	}
}

func TestLoadMigrationsRejectsOrphanDown(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{
		"20261001_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if err == nil {
		t.Error("loadMigrations() should reject a down script without an up script")
	}
}

func TestParseMigrationFile(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20261001_090000_initial_schema.up.sql", "20261001_090000", "initial_schema", true, true},
		{"20261001_090000_initial_schema.down.sql", "20261001_090000", "initial_schema", false, true},
		{"20261001_090000.up.sql", "20261001_090000", "", true, true},
		{"20261001_090000_initial_schema.sql", "", "", false, false},
		{"initial.up.sql", "", "", false, false},
		{"2026_090000_short.up.sql", "", "", false, false},
		{"2026100a_090000_letters.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			f, ok := parseMigrationFile(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if f.version != tt.wantVersion || f.name != tt.wantName || f.up != tt.wantUp {
				t.Errorf("got {%s %s %v}, want {%s %s %v}",
					f.version, f.name, f.up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
