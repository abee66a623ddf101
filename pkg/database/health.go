package database

import (
	"context"
	"database/sql"
)

// Health pings the database and returns pool statistics.
func Health(ctx context.Context, db *sql.DB) (map[string]any, error) {
	if err := db.PingContext(ctx); err != nil {
		return map[string]any{"status": "unreachable"}, err
	}
	stats := db.Stats()
	return map[string]any{
		"status":           "ok",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}, nil
}
