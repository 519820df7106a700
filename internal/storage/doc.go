// Package storage persists the bot's pending obligations: one-shot role
// timers and scheduled study sessions. It is the authoritative record
// across restarts; everything in memory is rebuilt from these tables.
//
// Timestamps are stored as Unix milliseconds. Schema lives in the
// embedded migrations.sql and is applied idempotently at Open.
package storage
