package database

import _ "embed"

// Schema is the single source of truth for the trading engine's sqlite
// schema. It is applied idempotently by (*DB).Migrate.
//
//go:embed schema.sql
var Schema string
