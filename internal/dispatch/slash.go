package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/slackapi"
	"github.com/ghabxph/starship/internal/ticket"
	"github.com/ghabxph/starship/internal/webhook"
)

const (
	reportTimeout = 5 * time.Second

	slashUsage = "Tell me what the ticket is about, for example `/ticket Fix login bug on iOS`. " +
		"Add \"assign to <name>\" to set an assignee."
)

// trailingAssign matches an explicit "assign to <name>" at the end of a
// slash command. Prose elsewhere in the summary is left alone.
var trailingAssign = regexp.MustCompile(`\s+(?i:assign(?:ed)?\s+to)\s+@?([\p{L}\p{N}._-]+(?:\s+[\p{Lu}][\p{L}._-]*)?)\s*$`)

func parseTrailingAssignee(text string) (name, summary string) {
	m := trailingAssign.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text
	}
	name = text[m[2]:m[3]]
	if strings.EqualFold(name, "me") {
		name = ""
	}
	return name, strings.TrimSpace(text[:m[0]])
}

func (d *Dispatcher) slashCommandTask(cmd webhook.SlashCommand) Task {
	return func(ctx context.Context) error {
		errCtx := logging.CreateErrorContext(cmd.TeamID, cmd.ChannelID, cmd.UserID, "dispatch", TaskSlashCommand).
			WithResponseURL(cmd.ResponseURL)

		if err := d.authorize(cmd.TeamID, cmd.ChannelID, cmd.UserID, cmd.Command); err != nil {
			return d.fail(ctx, errCtx, err, "checking permissions")
		}

		ws, svc, err := d.workspaceService(ctx, cmd.TeamID)
		if err != nil {
			return d.fail(ctx, errCtx, err, "loading the workspace")
		}

		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			return d.Chat.RespondEphemeral(ctx, cmd.ResponseURL, slashUsage)
		}

		name, summary := parseTrailingAssignee(text)
		assignee := d.resolveAssignee(ctx, svc, name)

		req := ticket.CreateRequest{
			Summary:     summary,
			Description: fmt.Sprintf("Ticket created from Slack by <@%s>\n\nChannel: <#%s>", cmd.UserID, cmd.ChannelID),
			ProjectKey:  d.projectKey(ws),
			IssueType:   d.issueType(ws, ""),
		}
		if assignee != nil {
			req.AssigneeID = assignee.ID
		}

		tk, err := d.createTicket(ctx, svc, req)
		if err != nil {
			return d.fail(ctx, errCtx, err, "creating the ticket")
		}
		d.Metrics.TicketCreated(providerName(ws))
		d.Logger.Info("Ticket created from slash command",
			zap.String("key", tk.Key),
			zap.String("team_id", cmd.TeamID),
			zap.String("user_id", cmd.UserID))

		view := slackapi.TicketView{Key: tk.Key, URL: tk.URL, Summary: summary}
		if assignee != nil {
			view.Assignee = assignee.DisplayName
		}
		msg := &slack.WebhookMessage{
			ResponseType: slack.ResponseTypeInChannel,
			Text:         slackapi.TicketCreatedText(view),
			Blocks:       &slack.Blocks{BlockSet: slackapi.TicketCreatedBlocks(view)},
		}
		if err := d.Chat.Respond(ctx, cmd.ResponseURL, msg); err != nil {
			d.Logger.Error("Failed to post ticket to response URL",
				zap.String("key", tk.Key),
				zap.Error(err))
			return err
		}
		return nil
	}
}
