package db

import "embed"

// MigrationFS embeds the SQL migrations for users, refresh_sessions and audit_logs.
// cmd/migrate and the integration suites apply them through the migrate package.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
