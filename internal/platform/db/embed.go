package db

import "embed"

// EmbedMigrations holds the goose SQL migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
