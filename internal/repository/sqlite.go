package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/database"
)

// SQLiteStore stores workspaces and onboarding state in a local SQLite file
type SQLiteStore struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSQLiteStore(db *database.Database, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}
}

func (r *SQLiteStore) GetWorkspace(ctx context.Context, teamID string) (*Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE team_id = ?`

	var (
		ws                       Workspace
		expiry, created, updated string
	)
	err := r.db.GetDB().QueryRowContext(ctx, query, teamID).Scan(
		&ws.TeamID, &ws.Provider, &ws.JiraCloudID, &ws.JiraSiteURL, &ws.AccessToken, &ws.RefreshToken,
		&expiry, &ws.JiraEmail, &ws.JiraAPIToken, &ws.DefaultProjectKey, &ws.DefaultIssueType,
		&ws.MondayAPIToken, &ws.MondayBoardID, &ws.MondayPeopleColumn, &created, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	ws.TokenExpiry = parseTime(expiry)
	ws.CreatedAt = parseTime(created)
	ws.UpdatedAt = parseTime(updated)
	return &ws, nil
}

func (r *SQLiteStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	if ws == nil || ws.TeamID == "" {
		return fmt.Errorf("workspace team id is required")
	}
	touch(ws, time.Now().UTC())

	query := `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (team_id) DO UPDATE SET
			provider = excluded.provider,
			jira_cloud_id = excluded.jira_cloud_id,
			jira_site_url = excluded.jira_site_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			jira_email = excluded.jira_email,
			jira_api_token = excluded.jira_api_token,
			default_project_key = excluded.default_project_key,
			default_issue_type = excluded.default_issue_type,
			monday_api_token = excluded.monday_api_token,
			monday_board_id = excluded.monday_board_id,
			monday_people_column = excluded.monday_people_column,
			updated_at = excluded.updated_at`

	_, err := r.db.GetDB().ExecContext(ctx, query,
		ws.TeamID, string(ws.Provider), ws.JiraCloudID, ws.JiraSiteURL, ws.AccessToken, ws.RefreshToken,
		formatTime(ws.TokenExpiry), ws.JiraEmail, ws.JiraAPIToken, ws.DefaultProjectKey, ws.DefaultIssueType,
		ws.MondayAPIToken, ws.MondayBoardID, ws.MondayPeopleColumn, formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

func (r *SQLiteStore) DeleteWorkspace(ctx context.Context, teamID string) error {
	if _, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM workspaces WHERE team_id = ?`, teamID); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

func (r *SQLiteStore) MarkOnboarded(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.GetDB().ExecContext(ctx,
		`INSERT OR IGNORE INTO onboarded_users (user_id, onboarded_at) VALUES (?, ?)`,
		userID, formatTime(time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("failed to mark user onboarded: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *SQLiteStore) Close() error {
	return r.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
