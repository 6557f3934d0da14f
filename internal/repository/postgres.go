package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/database"
)

const workspaceColumns = `team_id, provider, jira_cloud_id, jira_site_url, access_token, refresh_token,
	token_expiry, jira_email, jira_api_token, default_project_key, default_issue_type,
	monday_api_token, monday_board_id, monday_people_column, created_at, updated_at`

// PostgresStore stores workspaces and onboarding state in PostgreSQL
type PostgresStore struct {
	db     *database.Database
	logger *zap.Logger
}

func NewPostgresStore(db *database.Database, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

func (r *PostgresStore) GetWorkspace(ctx context.Context, teamID string) (*Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE team_id = $1`

	var (
		ws     Workspace
		expiry sql.NullTime
	)
	err := r.db.GetDB().QueryRowContext(ctx, query, teamID).Scan(
		&ws.TeamID, &ws.Provider, &ws.JiraCloudID, &ws.JiraSiteURL, &ws.AccessToken, &ws.RefreshToken,
		&expiry, &ws.JiraEmail, &ws.JiraAPIToken, &ws.DefaultProjectKey, &ws.DefaultIssueType,
		&ws.MondayAPIToken, &ws.MondayBoardID, &ws.MondayPeopleColumn, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if expiry.Valid {
		ws.TokenExpiry = expiry.Time
	}
	return &ws, nil
}

func (r *PostgresStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	if ws == nil || ws.TeamID == "" {
		return fmt.Errorf("workspace team id is required")
	}
	touch(ws, time.Now().UTC())

	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (team_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			jira_cloud_id = EXCLUDED.jira_cloud_id,
			jira_site_url = EXCLUDED.jira_site_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			jira_email = EXCLUDED.jira_email,
			jira_api_token = EXCLUDED.jira_api_token,
			default_project_key = EXCLUDED.default_project_key,
			default_issue_type = EXCLUDED.default_issue_type,
			monday_api_token = EXCLUDED.monday_api_token,
			monday_board_id = EXCLUDED.monday_board_id,
			monday_people_column = EXCLUDED.monday_people_column,
			updated_at = EXCLUDED.updated_at`

	var expiry sql.NullTime
	if !ws.TokenExpiry.IsZero() {
		expiry = sql.NullTime{Time: ws.TokenExpiry, Valid: true}
	}

	_, err := r.db.GetDB().ExecContext(ctx, query,
		ws.TeamID, string(ws.Provider), ws.JiraCloudID, ws.JiraSiteURL, ws.AccessToken, ws.RefreshToken,
		expiry, ws.JiraEmail, ws.JiraAPIToken, ws.DefaultProjectKey, ws.DefaultIssueType,
		ws.MondayAPIToken, ws.MondayBoardID, ws.MondayPeopleColumn, ws.CreatedAt, ws.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}

	r.logger.Debug("Saved workspace",
		zap.String("team_id", ws.TeamID),
		zap.String("provider", string(ws.Provider)))
	return nil
}

func (r *PostgresStore) DeleteWorkspace(ctx context.Context, teamID string) error {
	if _, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM workspaces WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

func (r *PostgresStore) MarkOnboarded(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.GetDB().ExecContext(ctx,
		`INSERT INTO onboarded_users (user_id, onboarded_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark user onboarded: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *PostgresStore) Close() error {
	return r.db.Close()
}
