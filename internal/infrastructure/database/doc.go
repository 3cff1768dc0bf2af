// Package database provides SQLite connectivity for homecore.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations loaded from an fs.FS
//   - Health checks used by /api/health
//
// All queries use parameterised statements and the database file is
// restricted to its owner (0600).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and each .up.sql should ship with a matching .down.sql.
package database
