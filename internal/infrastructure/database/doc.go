// Package database provides SQLite connectivity for the device event journal.
//
// This package manages:
//   - Opening the database file (or a private in-memory database)
//   - WAL mode and busy timeout configuration
//   - Applying embedded schema migrations
//
// All queries use parameterised statements and the database file is created
// with 0600 permissions.
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
package database
