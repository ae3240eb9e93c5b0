// Package db owns the localchat SQL schema.
package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate and by the server
// when LOCALCHAT_DB_AUTO_MIGRATE is set.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
