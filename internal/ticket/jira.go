package ticket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"github.com/ghabxph/starship/internal/apierr"
)

const jiraService = "jira"

// Jira creates issues through the Jira REST API
type Jira struct {
	client  *jira.Client
	siteURL string
	backoff time.Duration
}

// NewJira builds a client for apiBase. siteURL is used for browse links.
func NewJira(httpClient *http.Client, apiBase, siteURL string, backoff time.Duration) (*Jira, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client, err := jira.NewClient(httpClient, apiBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}
	return &Jira{
		client:  client,
		siteURL: siteURL,
		backoff: backoff,
	}, nil
}

// BasicAuthClient authenticates with an Atlassian account email and API token
func BasicAuthClient(base *http.Client, email, apiToken string) *http.Client {
	tp := jira.BasicAuthTransport{
		Username: email,
		Password: apiToken,
	}
	if base != nil {
		tp.Transport = base.Transport
	}
	client := tp.Client()
	if base != nil {
		client.Timeout = base.Timeout
	}
	return client
}

func (j *Jira) CreateTicket(ctx context.Context, req CreateRequest) (*Ticket, error) {
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		return nil, ErrEmptySummary
	}
	issueType := req.IssueType
	if issueType == "" {
		issueType = "Task"
	}

	fields := &jira.IssueFields{
		Project:     jira.Project{Key: req.ProjectKey},
		Summary:     summary,
		Description: req.Description,
		Type:        jira.IssueType{Name: issueType},
	}
	if req.Priority != "" {
		fields.Priority = &jira.Priority{Name: req.Priority}
	}
	if req.AssigneeID != "" {
		fields.Assignee = &jira.User{AccountID: req.AssigneeID}
	}

	// Not retried: a repeated POST could create a duplicate issue
	created, resp, err := j.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return nil, apierr.WrapStatus(jiraService, "create issue", statusOf(resp), err)
	}

	return &Ticket{
		Key:     created.Key,
		ID:      created.ID,
		URL:     browseURL(j.siteURL, created.Key),
		Summary: summary,
	}, nil
}

func (j *Jira) SearchUser(ctx context.Context, query string) (*User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var (
		users []jira.User
		resp  *jira.Response
	)
	err := apierr.RetryIdempotent(ctx, j.backoff, func(ctx context.Context) error {
		var err error
		users, resp, err = j.client.User.FindWithContext(ctx, query)
		return err
	})
	if err != nil {
		return nil, apierr.WrapStatus(jiraService, "search users", statusOf(resp), err)
	}

	for _, u := range users {
		if u.Active && u.AccountType != "app" {
			return &User{ID: u.AccountID, DisplayName: u.DisplayName, Email: u.EmailAddress}, nil
		}
	}
	return nil, nil
}

func (j *Jira) AssignTicket(ctx context.Context, key, userID string) (bool, error) {
	resp, err := j.client.Issue.UpdateAssigneeWithContext(ctx, key, &jira.User{AccountID: userID})
	if err != nil {
		return false, apierr.WrapStatus(jiraService, "assign issue", statusOf(resp), err)
	}
	return true, nil
}

func statusOf(resp *jira.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
