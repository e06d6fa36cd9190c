// Package migrations embeds the journal schema into the binary.
package migrations

import "embed"

//go:embed *.up.sql
var files embed.FS

// FS holds the SQL migrations, for database.DB.Migrate.
var FS = files
