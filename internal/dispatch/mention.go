package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/slackapi"
	"github.com/ghabxph/starship/internal/summarize"
	"github.com/ghabxph/starship/internal/ticket"
)

const (
	reactionWorking = "thinking_face"
	reactionDone    = "white_check_mark"
	draftKeyword    = "draft"

	// Slack rejects button values longer than this
	maxDraftValue = 2000
)

var (
	leadingMentions = regexp.MustCompile(`^(\s*<@[A-Z0-9]+(\|[^>]*)?>)+\s*`)
	assignPattern   = regexp.MustCompile(`\b(?i:assign(?:ed)?(?:\s+it)?(?:\s+to)?)\s+@?([\p{L}\p{N}._-]+(?:\s+[\p{Lu}][\p{L}._-]*)?)`)
	// plain-text "@name" that Slack did not resolve into a user mention
	bareMention = regexp.MustCompile(`(?:^|\s)@([\p{L}\p{N}._-]+)`)
)

// ParseAssignee extracts an "assign to <name>" clause, or failing that a
// bare "@name". rest is text with the clause removed.
func ParseAssignee(text string) (name, rest string) {
	loc := assignPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		loc = bareMention.FindStringSubmatchIndex(text)
	}
	if loc == nil {
		return "", strings.TrimSpace(text)
	}
	name = strings.TrimRight(text[loc[2]:loc[3]], ".")
	if strings.EqualFold(name, "me") {
		name = ""
	}
	rest = strings.TrimSpace(text[:loc[0]] + " " + text[loc[1]:])
	rest = strings.Join(strings.Fields(rest), " ")
	return name, rest
}

func stripMentions(text string) string {
	return strings.TrimSpace(leadingMentions.ReplaceAllString(text, ""))
}

func (d *Dispatcher) mentionTask(teamID string, ev *slackevents.AppMentionEvent) Task {
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	return func(ctx context.Context) error {
		errCtx := logging.CreateErrorContext(teamID, ev.Channel, ev.User, "dispatch", TaskAppMention).
			WithThread(threadTS)

		if err := d.authorize(teamID, ev.Channel, ev.User, "mention"); err != nil {
			return d.fail(ctx, errCtx, err, "checking permissions")
		}

		d.react(ctx, ev.Channel, ev.TimeStamp, reactionWorking)

		ws, svc, err := d.workspaceService(ctx, teamID)
		if err != nil {
			return d.fail(ctx, errCtx, err, "loading the workspace")
		}

		text := stripMentions(ev.Text)
		fields := strings.Fields(text)
		draft := len(fields) > 0 && strings.EqualFold(fields[0], draftKeyword)
		if draft {
			text = strings.TrimSpace(text[len(draftKeyword):])
		}
		name, hint := ParseAssignee(text)

		msgs, err := d.conversation(ctx, ev)
		if err != nil {
			return d.fail(ctx, errCtx, err, "reading the thread")
		}

		summary, err := d.Summarizer.SummarizeConversation(ctx, msgs, hint)
		if err != nil {
			return d.fail(ctx, errCtx, err, "summarizing the conversation")
		}

		if draft {
			return d.postDraft(ctx, errCtx, ev.Channel, threadTS, summary)
		}

		assignee := d.resolveAssignee(ctx, svc, name)
		req := ticket.CreateRequest{
			Summary:     summary.Title,
			Description: fmt.Sprintf("%s\n\nCreated from a Slack thread by <@%s>", summary.Description, ev.User),
			ProjectKey:  d.projectKey(ws),
			IssueType:   d.issueType(ws, summary.IssueType),
			Priority:    summary.Priority,
		}
		if assignee != nil {
			req.AssigneeID = assignee.ID
		}

		tk, err := d.createTicket(ctx, svc, req)
		if err != nil {
			return d.fail(ctx, errCtx, err, "creating the ticket")
		}
		d.Metrics.TicketCreated(providerName(ws))
		d.Logger.Info("Ticket created from mention",
			zap.String("key", tk.Key),
			zap.String("team_id", teamID),
			zap.String("channel_id", ev.Channel),
			zap.Int("messages", len(msgs)))

		d.react(ctx, ev.Channel, ev.TimeStamp, reactionDone)

		view := slackapi.TicketView{Key: tk.Key, URL: tk.URL, Summary: summary.Title}
		if assignee != nil {
			view.Assignee = assignee.DisplayName
		} else if name != "" {
			view.Assignee = fmt.Sprintf("unassigned (no match for %q)", name)
		}
		if _, err := d.Chat.PostMessage(ctx, ev.Channel, threadTS, slackapi.TicketCreatedText(view), slackapi.TicketCreatedBlocks(view)); err != nil {
			d.Logger.Error("Failed to post ticket reply",
				zap.String("key", tk.Key),
				zap.String("channel_id", ev.Channel),
				zap.Error(err))
			return err
		}
		return nil
	}
}

// conversation returns the thread the mention lives in, or the mention
// itself when it was not posted in a thread.
func (d *Dispatcher) conversation(ctx context.Context, ev *slackevents.AppMentionEvent) ([]summarize.Message, error) {
	own := summarize.Message{Author: ev.User, Text: stripMentions(ev.Text)}
	if ev.ThreadTimeStamp == "" {
		return []summarize.Message{own}, nil
	}

	replies, err := d.Chat.GetThreadReplies(ctx, ev.Channel, ev.ThreadTimeStamp)
	if err != nil {
		return nil, err
	}

	msgs := make([]summarize.Message, 0, len(replies))
	for _, r := range replies {
		if r.BotID != "" || strings.TrimSpace(r.Text) == "" {
			continue
		}
		msgs = append(msgs, summarize.Message{Author: r.User, Text: stripMentions(r.Text)})
	}
	if len(msgs) == 0 {
		msgs = append(msgs, own)
	}
	return msgs, nil
}

func (d *Dispatcher) postDraft(ctx context.Context, errCtx *logging.ErrorContext, channelID, threadTS string, s *summarize.Summary) error {
	value, err := draftValue(s)
	if err != nil {
		return d.fail(ctx, errCtx, err, "preparing the draft")
	}
	view := slackapi.DraftView{
		Title:       s.Title,
		Description: s.Description,
		IssueType:   s.IssueType,
		Priority:    s.Priority,
		Value:       value,
	}
	if _, err := d.Chat.PostMessage(ctx, channelID, threadTS, "Proposed ticket: "+s.Title, slackapi.DraftBlocks(view)); err != nil {
		return d.fail(ctx, errCtx, err, "posting the draft")
	}
	return nil
}

// draftValue encodes s for a button, shortening the description until the
// JSON fits.
func draftValue(s *summarize.Summary) (string, error) {
	c := *s
	for {
		raw, err := json.Marshal(&c)
		if err != nil {
			return "", err
		}
		over := len(raw) - maxDraftValue
		if over <= 0 {
			return string(raw), nil
		}
		if c.Description == "" {
			return "", fmt.Errorf("draft title too long for a button value")
		}
		cut := len(c.Description) - over - 3
		if cut < 0 {
			cut = 0
		}
		for cut > 0 && c.Description[cut]&0xC0 == 0x80 {
			cut--
		}
		c.Description = c.Description[:cut] + "..."
		if cut == 0 {
			c.Description = ""
		}
	}
}

func (d *Dispatcher) react(ctx context.Context, channelID, ts, name string) {
	if err := d.Chat.AddReaction(ctx, channelID, ts, name); err != nil {
		d.Logger.Debug("Failed to add reaction",
			zap.String("reaction", name),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}
