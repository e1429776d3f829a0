// Package database provides SQLite connectivity for Gray Logic Hub.
//
// The hub keeps no live state in the database; presence is in memory only.
// SQLite holds the session event history written by the audit recorder.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Versioned up/down migrations loaded from an fs.FS
//   - Health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or have defaults,
// and every .up.sql should have a matching .down.sql.
package database
