package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Database wraps a SQL connection pool with its dialect
type Database struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewDatabase connects to PostgreSQL and verifies the connection
func NewDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	connStr := cfg.URL
	if connStr == "" {
		connStr = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslMode(cfg.SSLMode))
	}

	db, err := sql.Open(DriverPostgres, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("driver", DriverPostgres),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Int("max_connections", cfg.MaxConnections))

	return &Database{
		db:     db,
		driver: DriverPostgres,
		logger: logger,
	}, nil
}

func (d *Database) Health() error {
	return d.db.Ping()
}

func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *Database) IsConnected() bool {
	return d.Health() == nil
}

func (d *Database) GetDB() *sql.DB {
	return d.db
}

func (d *Database) Driver() string {
	return d.driver
}

// RunMigrations creates the tables Starship needs if they are missing
func (d *Database) RunMigrations(ctx context.Context) error {
	stmts := postgresSchema
	if d.driver == DriverSQLite {
		stmts = sqliteSchema
	}

	for i, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}
	d.logger.Info("Migrations applied",
		zap.String("driver", d.driver),
		zap.Int("statements", len(stmts)))
	return nil
}

func sslMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		team_id             TEXT PRIMARY KEY,
		provider            TEXT NOT NULL DEFAULT 'jira',
		jira_cloud_id       TEXT NOT NULL DEFAULT '',
		jira_site_url       TEXT NOT NULL DEFAULT '',
		access_token        TEXT NOT NULL DEFAULT '',
		refresh_token       TEXT NOT NULL DEFAULT '',
		token_expiry        TIMESTAMPTZ NULL,
		jira_email          TEXT NOT NULL DEFAULT '',
		jira_api_token      TEXT NOT NULL DEFAULT '',
		default_project_key TEXT NOT NULL DEFAULT '',
		default_issue_type  TEXT NOT NULL DEFAULT '',
		monday_api_token    TEXT NOT NULL DEFAULT '',
		monday_board_id     TEXT NOT NULL DEFAULT '',
		monday_people_column TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE workspaces ADD COLUMN IF NOT EXISTS monday_people_column TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS onboarded_users (
		user_id      TEXT PRIMARY KEY,
		onboarded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
