// Package database provides SQLite connectivity for mfcd.
//
// The database holds two kinds of data:
//   - calibrations: per-gas point tables that overlay the built-in defaults
//   - audit_logs: the trail of emergency stops, purges and shutdowns
//
// Device registrations and live readings are deliberately absent; the
// registry is rebuilt from configuration on every start.
//
// Usage:
//
//	db, err := database.OpenAndMigrate(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Migrations are embedded from the top-level migrations package, named
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql, and applied in version order.
package database
