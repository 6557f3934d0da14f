package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent deferred tasks
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("driver", DriverSQLite),
		zap.String("path", path))

	return &Database{
		db:     db,
		driver: DriverSQLite,
		logger: logger,
	}, nil
}

// Times are stored as RFC 3339 text; an empty string means unset.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		team_id             TEXT PRIMARY KEY,
		provider            TEXT NOT NULL DEFAULT 'jira',
		jira_cloud_id       TEXT NOT NULL DEFAULT '',
		jira_site_url       TEXT NOT NULL DEFAULT '',
		access_token        TEXT NOT NULL DEFAULT '',
		refresh_token       TEXT NOT NULL DEFAULT '',
		token_expiry        TEXT NOT NULL DEFAULT '',
		jira_email          TEXT NOT NULL DEFAULT '',
		jira_api_token      TEXT NOT NULL DEFAULT '',
		default_project_key TEXT NOT NULL DEFAULT '',
		default_issue_type  TEXT NOT NULL DEFAULT '',
		monday_api_token    TEXT NOT NULL DEFAULT '',
		monday_board_id     TEXT NOT NULL DEFAULT '',
		monday_people_column TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS onboarded_users (
		user_id      TEXT PRIMARY KEY,
		onboarded_at TEXT NOT NULL
	)`,
}
