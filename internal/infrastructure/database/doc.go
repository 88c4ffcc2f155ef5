// Package database opens the SQLite file behind the mapping and audit
// repositories and applies schema migrations.
//
// Migrations are embedded by the migrations package and named
// YYYYMMDD_HHMMSS_name.up.sql, with an optional .down.sql. They only ever
// add: new columns are nullable or carry a default.
//
//	db, err := database.Open(ctx, cfg.Database)
//	...
//	err = db.Migrate(ctx, migrations.FS)
package database
