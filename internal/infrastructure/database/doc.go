// Package database opens the SQLite file that backs the wpand event journal
// and applies its schema.
//
// Migrations come from an fs.FS, normally the embedded migrations package,
// and are recorded in schema_migrations so each runs once:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Schema changes are additive. New columns are nullable or carry a default,
// and every .up.sql ships with a .down.sql so Rollback can revert it.
package database
