package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/apierr"
	"github.com/ghabxph/starship/internal/auth"
	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/repository"
	"github.com/ghabxph/starship/internal/ticket"
)

// userMessage turns a deferred failure into text for the requesting user
func (d *Dispatcher) userMessage(teamID, action string, err error) string {
	var svcErr *apierr.ServiceError
	switch {
	case errors.Is(err, repository.ErrWorkspaceNotFound):
		msg := "Starship isn't connected to a ticket system for this workspace yet. Ask an admin to connect Jira."
		if link := d.opts.AuthURL(teamID); link != "" {
			msg += fmt.Sprintf(" <%s|Connect Jira>", link)
		}
		return msg
	case errors.Is(err, auth.ErrRateLimited):
		return "You're creating tickets too quickly. Please wait a minute and try again."
	case errors.Is(err, auth.ErrUserNotAllowed), errors.Is(err, auth.ErrChannelNotAllowed):
		return fmt.Sprintf("Sorry, %s.", err.Error())
	case errors.Is(err, ticket.ErrEmptySummary):
		return "A ticket needs a summary. Try `/ticket Fix login bug`."
	case apierr.IsTimeout(err):
		return fmt.Sprintf("Timed out while %s. Please try again.", action)
	case errors.As(err, &svcErr):
		return fmt.Sprintf("Failed while %s: %s is not responding correctly. Please try again later.", action, svcErr.Service)
	}
	return fmt.Sprintf("Something went wrong while %s.", action)
}

// fail logs err and reports it to the user through errCtx
func (d *Dispatcher) fail(ctx context.Context, errCtx *logging.ErrorContext, err error, action string) error {
	// The task deadline may already be spent; give the report its own budget
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	errCtx.WithUserMessage(":x: " + d.userMessage(errCtx.TeamID, action, err))
	d.reporter.LogError(reportCtx, errCtx, err, action)
	return err
}

// workspaceService resolves the ticket backend of a team
func (d *Dispatcher) workspaceService(ctx context.Context, teamID string) (*repository.Workspace, ticket.Service, error) {
	ws, err := d.Workspaces.GetWorkspace(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	svc, err := d.Tickets.ForWorkspace(ctx, ws)
	if err != nil {
		return nil, nil, err
	}
	return ws, svc, nil
}

func (d *Dispatcher) authorize(teamID, channelID, userID, command string) error {
	if d.Policy == nil {
		return nil
	}
	return d.Policy.AuthorizeUser(auth.AuthContext{
		TeamID:    teamID,
		ChannelID: channelID,
		UserID:    userID,
		Command:   command,
	})
}

func (d *Dispatcher) projectKey(ws *repository.Workspace) string {
	if ws.DefaultProjectKey != "" {
		return ws.DefaultProjectKey
	}
	return d.opts.DefaultProjectKey
}

func (d *Dispatcher) issueType(ws *repository.Workspace, suggested string) string {
	if suggested != "" && ws.Provider != repository.ProviderMonday {
		return suggested
	}
	if ws.DefaultIssueType != "" {
		return ws.DefaultIssueType
	}
	return d.opts.DefaultIssueType
}

func providerName(ws *repository.Workspace) string {
	if ws.Provider == "" {
		return string(repository.ProviderJira)
	}
	return string(ws.Provider)
}

// resolveAssignee looks up name in the ticket system. A lookup failure is
// logged and leaves the ticket unassigned.
func (d *Dispatcher) resolveAssignee(ctx context.Context, svc ticket.Service, name string) *ticket.User {
	if name == "" {
		return nil
	}
	user, err := svc.SearchUser(ctx, name)
	if err != nil {
		d.Logger.Warn("Assignee lookup failed", zap.String("query", name), zap.Error(err))
		return nil
	}
	return user
}

// createTicket creates req. A ticket that exists but is incomplete counts as
// created so the user is not prompted into making a duplicate.
func (d *Dispatcher) createTicket(ctx context.Context, svc ticket.Service, req ticket.CreateRequest) (*ticket.Ticket, error) {
	tk, err := svc.CreateTicket(ctx, req)
	if err != nil && tk != nil && errors.Is(err, ticket.ErrPartiallyCreated) {
		d.Logger.Warn("Ticket created with errors",
			zap.String("key", tk.Key),
			zap.Error(err))
		return tk, nil
	}
	if err != nil {
		return nil, err
	}
	return tk, nil
}
