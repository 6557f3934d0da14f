// Package ticket creates and assigns tickets in Jira or Monday.com.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ghabxph/starship/internal/repository"
)

var (
	ErrEmptySummary = errors.New("ticket summary is required")

	// ErrPartiallyCreated is returned together with a non-nil Ticket when
	// the ticket exists but a follow-up write failed
	ErrPartiallyCreated = errors.New("ticket created but not fully populated")
)

// CreateRequest describes a ticket to create
type CreateRequest struct {
	Summary     string
	Description string
	ProjectKey  string
	IssueType   string
	Priority    string
	AssigneeID  string
}

// Ticket is a created ticket
type Ticket struct {
	Key     string
	ID      string
	URL     string
	Summary string
}

// User is a person a ticket can be assigned to
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Service is a ticketing backend
type Service interface {
	// CreateTicket may return a Ticket with an error wrapping
	// ErrPartiallyCreated; the ticket exists and must not be created again.
	CreateTicket(ctx context.Context, req CreateRequest) (*Ticket, error)
	// SearchUser returns nil without error when nobody matches
	SearchUser(ctx context.Context, query string) (*User, error)
	AssignTicket(ctx context.Context, key, userID string) (bool, error)
}

// HTTPClientSource returns an authenticated client for an OAuth workspace
type HTTPClientSource interface {
	Client(ctx context.Context, ws *repository.Workspace) *http.Client
}

// Factory builds the ticket service of a workspace
type Factory struct {
	oauth        HTTPClientSource
	httpClient   *http.Client
	mondayAPIURL string
	backoff      time.Duration
}

func NewFactory(oauth HTTPClientSource, httpClient *http.Client, mondayAPIURL string, backoff time.Duration) *Factory {
	return &Factory{
		oauth:        oauth,
		httpClient:   httpClient,
		mondayAPIURL: mondayAPIURL,
		backoff:      backoff,
	}
}

// ForWorkspace returns a Service for ws
func (f *Factory) ForWorkspace(ctx context.Context, ws *repository.Workspace) (Service, error) {
	switch ws.Provider {
	case repository.ProviderMonday:
		if ws.MondayAPIToken == "" || ws.MondayBoardID == "" {
			return nil, fmt.Errorf("monday workspace %s is missing token or board", ws.TeamID)
		}
		return NewMonday(f.httpClient, f.mondayAPIURL, ws.MondayAPIToken, ws.MondayBoardID, ws.MondayPeopleColumn, f.backoff), nil

	case repository.ProviderJira, "":
		if ws.UsesOAuth() {
			if f.oauth == nil {
				return nil, fmt.Errorf("oauth is not configured")
			}
			client := f.oauth.Client(ctx, ws)
			return NewJira(client, AtlassianAPIBase(ws.JiraCloudID), ws.JiraSiteURL, f.backoff)
		}
		if ws.JiraSiteURL != "" && ws.JiraEmail != "" && ws.JiraAPIToken != "" {
			client := BasicAuthClient(f.httpClient, ws.JiraEmail, ws.JiraAPIToken)
			return NewJira(client, ws.JiraSiteURL, ws.JiraSiteURL, f.backoff)
		}
		return nil, fmt.Errorf("jira workspace %s has no credentials: %w", ws.TeamID, repository.ErrWorkspaceNotFound)

	default:
		return nil, fmt.Errorf("unknown provider %q", ws.Provider)
	}
}

// AtlassianAPIBase is the REST base of a cloud site reached with a 3LO token
func AtlassianAPIBase(cloudID string) string {
	return "https://api.atlassian.com/ex/jira/" + cloudID + "/"
}

func browseURL(site, key string) string {
	if site == "" || key == "" {
		return ""
	}
	return strings.TrimRight(site, "/") + "/browse/" + key
}
