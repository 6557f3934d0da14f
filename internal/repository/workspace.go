package repository

import (
	"context"
	"errors"
	"time"
)

// ErrWorkspaceNotFound is returned when no ticketing configuration exists for a team
var ErrWorkspaceNotFound = errors.New("workspace not configured")

// Provider identifies the ticketing system of a workspace
type Provider string

const (
	ProviderJira   Provider = "jira"
	ProviderMonday Provider = "monday"
)

// Workspace holds the ticketing configuration of one Slack team
type Workspace struct {
	TeamID             string    `json:"team_id" yaml:"team_id"`
	Provider           Provider  `json:"provider" yaml:"provider"`
	JiraCloudID        string    `json:"jira_cloud_id,omitempty" yaml:"jira_cloud_id"`
	JiraSiteURL        string    `json:"jira_site_url,omitempty" yaml:"jira_site_url"`
	AccessToken        string    `json:"access_token,omitempty" yaml:"access_token"`
	RefreshToken       string    `json:"refresh_token,omitempty" yaml:"refresh_token"`
	TokenExpiry        time.Time `json:"token_expiry,omitempty" yaml:"token_expiry"`
	JiraEmail          string    `json:"jira_email,omitempty" yaml:"jira_email"`
	JiraAPIToken       string    `json:"jira_api_token,omitempty" yaml:"jira_api_token"`
	DefaultProjectKey  string    `json:"default_project_key,omitempty" yaml:"default_project_key"`
	DefaultIssueType   string    `json:"default_issue_type,omitempty" yaml:"default_issue_type"`
	MondayAPIToken     string    `json:"monday_api_token,omitempty" yaml:"monday_api_token"`
	MondayBoardID      string    `json:"monday_board_id,omitempty" yaml:"monday_board_id"`
	// MondayPeopleColumn is the people column assignees go into; empty means "person"
	MondayPeopleColumn string    `json:"monday_people_column,omitempty" yaml:"monday_people_column"`
	CreatedAt          time.Time `json:"created_at" yaml:"-"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"-"`
}

// UsesOAuth reports whether the workspace authenticates with a 3LO token
func (w *Workspace) UsesOAuth() bool {
	return w.AccessToken != "" && w.JiraCloudID != ""
}

// WorkspaceRepository stores workspaces keyed by Slack team id
type WorkspaceRepository interface {
	GetWorkspace(ctx context.Context, teamID string) (*Workspace, error)
	SaveWorkspace(ctx context.Context, ws *Workspace) error
	DeleteWorkspace(ctx context.Context, teamID string) error
}

// OnboardingRepository records which users received the onboarding message
type OnboardingRepository interface {
	// MarkOnboarded atomically records userID and reports whether this call
	// was the first to do so.
	MarkOnboarded(ctx context.Context, userID string) (bool, error)
}

// Store is a full storage backend
type Store interface {
	WorkspaceRepository
	OnboardingRepository
	Close() error
}

func touch(ws *Workspace, now time.Time) {
	if ws.Provider == "" {
		ws.Provider = ProviderJira
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now
}
