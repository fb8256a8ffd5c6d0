// Package migrations embeds the Postgres schema applied by pg.Migrate.
package migrations

import "embed"

// Dir is the directory inside FS holding the goose migrations.
const Dir = "."

//go:embed *.sql
var FS embed.FS
