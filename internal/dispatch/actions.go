package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/slackapi"
	"github.com/ghabxph/starship/internal/summarize"
	"github.com/ghabxph/starship/internal/ticket"
	"github.com/ghabxph/starship/internal/webhook"
)

func (d *Dispatcher) dispatchAction(a webhook.InteractiveAction) Result {
	d.Logger.Debug("Received interactive action",
		zap.String("action_id", a.ActionID),
		zap.String("user_id", a.UserID),
		zap.String("team_id", a.TeamID))

	switch a.ActionID {
	case slackapi.ActionCreateTicket:
		return ack(TaskInteractiveAction, d.createFromDraftTask(a))
	case slackapi.ActionModifyTicket:
		return ack(TaskInteractiveAction, d.modifyTicketTask(a))
	case slackapi.ActionAuthorize:
		// URL button; Slack opens the link itself
		return ack("", nil)
	}

	d.Logger.Info("Unhandled interactive action", zap.String("action_id", a.ActionID))
	return ack("", nil)
}

func actionErrorContext(a webhook.InteractiveAction) *logging.ErrorContext {
	errCtx := logging.CreateErrorContext(a.TeamID, a.ChannelID, a.UserID, "dispatch", TaskInteractiveAction)
	if a.ResponseURL != "" {
		errCtx = errCtx.WithResponseURL(a.ResponseURL)
	}
	return errCtx
}

// createFromDraftTask creates the ticket proposed by a draft message
func (d *Dispatcher) createFromDraftTask(a webhook.InteractiveAction) Task {
	return func(ctx context.Context) error {
		errCtx := actionErrorContext(a)

		if err := d.authorize(a.TeamID, a.ChannelID, a.UserID, a.ActionID); err != nil {
			return d.fail(ctx, errCtx, err, "checking permissions")
		}

		var draft summarize.Summary
		if err := json.Unmarshal([]byte(a.Value), &draft); err != nil || strings.TrimSpace(draft.Title) == "" {
			if err == nil {
				err = ticket.ErrEmptySummary
			}
			return d.fail(ctx, errCtx, fmt.Errorf("invalid draft: %w", err), "reading the draft")
		}

		ws, svc, err := d.workspaceService(ctx, a.TeamID)
		if err != nil {
			return d.fail(ctx, errCtx, err, "loading the workspace")
		}

		tk, err := d.createTicket(ctx, svc, ticket.CreateRequest{
			Summary:     draft.Title,
			Description: fmt.Sprintf("%s\n\nConfirmed in Slack by <@%s>", draft.Description, a.UserID),
			ProjectKey:  d.projectKey(ws),
			IssueType:   d.issueType(ws, draft.IssueType),
			Priority:    draft.Priority,
		})
		if err != nil {
			return d.fail(ctx, errCtx, err, "creating the ticket")
		}
		d.Metrics.TicketCreated(providerName(ws))
		d.Logger.Info("Ticket created from draft",
			zap.String("key", tk.Key),
			zap.String("team_id", a.TeamID),
			zap.String("user_id", a.UserID))

		view := slackapi.TicketView{Key: tk.Key, URL: tk.URL, Summary: draft.Title}
		if a.ResponseURL == "" {
			_, err := d.Chat.PostMessage(ctx, a.ChannelID, a.MessageTS, slackapi.TicketCreatedText(view), slackapi.TicketCreatedBlocks(view))
			return err
		}
		return d.Chat.Respond(ctx, a.ResponseURL, &slack.WebhookMessage{
			ResponseType:    slack.ResponseTypeInChannel,
			ReplaceOriginal: true,
			Text:            slackapi.TicketCreatedText(view),
			Blocks:          &slack.Blocks{BlockSet: slackapi.TicketCreatedBlocks(view)},
		})
	}
}

func (d *Dispatcher) modifyTicketTask(a webhook.InteractiveAction) Task {
	return func(ctx context.Context) error {
		text := fmt.Sprintf("Edit %s directly in your ticket system; changes there are not synced back to Slack.", a.Value)
		if a.ResponseURL != "" {
			return d.Chat.RespondEphemeral(ctx, a.ResponseURL, text)
		}
		if a.ChannelID == "" {
			return nil
		}
		return d.Chat.PostEphemeral(ctx, a.ChannelID, a.UserID, text)
	}
}
