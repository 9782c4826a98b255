package db

import "embed"

// MigrationFS embeds the identities and profiles schema from internal/db/migrations.
// Applied by internal/db/migrate (cmd/migrate).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
