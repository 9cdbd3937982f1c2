package migrations

import "embed"

// FS contains embedded SQLite migrations for the discovery hub table.
//
//go:embed *.sql
var FS embed.FS
