package migrations

import "embed"

// FS contains embedded SQLite migrations for extension blob storage.
//
//go:embed *.sql
var FS embed.FS
