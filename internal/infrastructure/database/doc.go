// Package database opens the SQLite database astrorpc keeps its command
// journal in and applies schema migrations to it.
//
// The database is optional. When enabled it is opened in WAL mode with a
// single connection, which matches SQLite's single-writer model.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and live at the root of the given fs.FS.
package database
