// Package database provides the SQLite connection used for the ADMS audit
// trail.
//
// Only server-side records live here (device lifecycle and command
// history); device data such as users and templates stays on the device.
//
// The package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Forward and rollback migrations read from an fs.FS
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a
// default, and every .up.sql has a matching .down.sql.
package database
