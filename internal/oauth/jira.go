// Package oauth implements the Atlassian OAuth 2.0 (3LO) flow for Jira Cloud.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ghabxph/starship/internal/apierr"
	"github.com/ghabxph/starship/internal/repository"
)

const (
	service = "atlassian"

	DefaultAuthURL      = "https://auth.atlassian.com/authorize"
	DefaultTokenURL     = "https://auth.atlassian.com/oauth/token"
	DefaultResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
)

var (
	Scopes = []string{"read:jira-user", "read:jira-work", "write:jira-work", "manage:jira-project", "offline_access"}

	ErrNoResources = errors.New("no accessible Jira sites for this token")
)

// Resource is a Jira site the token can reach
type Resource struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// Options configures a Manager
type Options struct {
	ClientID          string
	ClientSecret      string
	RedirectURI       string
	StateSecret       string
	StateTTL          time.Duration
	DefaultProjectKey string
	DefaultIssueType  string

	// Endpoint overrides; empty means the Atlassian defaults
	AuthURL      string
	TokenURL     string
	ResourcesURL string
}

// Manager runs the authorization flow and hands out authenticated clients
type Manager struct {
	cfg          *oauth2.Config
	state        *StateCodec
	store        repository.WorkspaceRepository
	httpClient   *http.Client
	resourcesURL string
	opts         Options
	backoff      time.Duration
	logger       *zap.Logger
}

func NewManager(opts Options, store repository.WorkspaceRepository, httpClient *http.Client, backoff time.Duration, logger *zap.Logger) *Manager {
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.ResourcesURL == "" {
		opts.ResourcesURL = DefaultResourcesURL
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		cfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		state:        NewStateCodec(opts.StateSecret, opts.StateTTL),
		store:        store,
		httpClient:   httpClient,
		resourcesURL: opts.ResourcesURL,
		opts:         opts,
		backoff:      backoff,
		logger:       logger,
	}
}

// AuthURL returns the consent page URL for teamID
func (m *Manager) AuthURL(teamID string) (string, error) {
	if strings.TrimSpace(teamID) == "" {
		return "", fmt.Errorf("team id is required")
	}
	return m.cfg.AuthCodeURL(m.state.Encode(teamID),
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// Exchange trades an authorization code for tokens
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.cfg.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, apierr.Wrap(service, "token exchange", err)
	}
	return tok, nil
}

// AccessibleResources lists the Jira sites tok grants access to
func (m *Manager) AccessibleResources(ctx context.Context, tok *oauth2.Token) ([]Resource, error) {
	client := m.cfg.Client(m.clientContext(ctx), tok)

	var resources []Resource
	err := apierr.RetryIdempotent(ctx, m.backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.resourcesURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return apierr.WrapStatus(service, "accessible resources", resp.StatusCode, fmt.Errorf("unexpected status"))
		}
		resources = nil
		return json.NewDecoder(resp.Body).Decode(&resources)
	})
	if err != nil {
		return nil, apierr.Wrap(service, "accessible resources", err)
	}
	return resources, nil
}

// Complete finishes the flow started by AuthURL: it verifies state,
// exchanges the code and stores the first accessible site for the team.
func (m *Manager) Complete(ctx context.Context, code, state string) (*repository.Workspace, *Resource, error) {
	teamID, err := m.state.Decode(state)
	if err != nil {
		return nil, nil, err
	}
	if code == "" {
		return nil, nil, fmt.Errorf("authorization code is missing")
	}

	tok, err := m.Exchange(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	resources, err := m.AccessibleResources(ctx, tok)
	if err != nil {
		return nil, nil, err
	}
	if len(resources) == 0 {
		return nil, nil, ErrNoResources
	}
	site := resources[0]

	ws, err := m.store.GetWorkspace(ctx, teamID)
	if errors.Is(err, repository.ErrWorkspaceNotFound) {
		ws = &repository.Workspace{
			TeamID:            teamID,
			DefaultProjectKey: m.opts.DefaultProjectKey,
			DefaultIssueType:  m.opts.DefaultIssueType,
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	ws.Provider = repository.ProviderJira
	ws.JiraCloudID = site.ID
	ws.JiraSiteURL = site.URL
	ws.AccessToken = tok.AccessToken
	ws.RefreshToken = tok.RefreshToken
	ws.TokenExpiry = tok.Expiry
	if err := m.store.SaveWorkspace(ctx, ws); err != nil {
		return nil, nil, fmt.Errorf("failed to save workspace: %w", err)
	}

	m.logger.Info("Jira workspace connected",
		zap.String("team_id", teamID),
		zap.String("site", site.URL),
		zap.Int("sites_available", len(resources)))
	return ws, &site, nil
}

// Client returns an HTTP client authorized for ws. Refreshed tokens are
// written back to the store.
func (m *Manager) Client(ctx context.Context, ws *repository.Workspace) *http.Client {
	tok := &oauth2.Token{
		AccessToken:  ws.AccessToken,
		RefreshToken: ws.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       ws.TokenExpiry,
	}
	cctx := m.clientContext(ctx)
	src := &persistingTokenSource{
		ctx:    ctx,
		base:   m.cfg.TokenSource(cctx, tok),
		ws:     *ws,
		last:   ws.AccessToken,
		store:  m.store,
		logger: m.logger,
	}

	client := oauth2.NewClient(cctx, src)
	client.Timeout = m.httpClient.Timeout
	return client
}

type persistingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	store  repository.WorkspaceRepository
	logger *zap.Logger

	mu   sync.Mutex
	ws   repository.Workspace
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, apierr.Wrap(service, "token refresh", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken

	p.ws.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		p.ws.RefreshToken = tok.RefreshToken
	}
	p.ws.TokenExpiry = tok.Expiry

	ws := p.ws
	if err := p.store.SaveWorkspace(p.ctx, &ws); err != nil {
		// The request can still proceed with the fresh token
		p.logger.Error("Failed to persist refreshed token",
			zap.String("team_id", ws.TeamID),
			zap.Error(err))
	} else {
		p.logger.Info("Refreshed Jira token", zap.String("team_id", ws.TeamID))
	}
	return tok, nil
}
