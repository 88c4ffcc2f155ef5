// Package migrations embeds SQL migration files into the binary.
//
// The box runs migrations at boot without needing the SQL files on the SD
// card. Pass FS to database.DB.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
