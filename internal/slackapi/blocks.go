package slackapi

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// Action ids carried by Starship buttons
const (
	ActionCreateTicket = "create_jira_ticket"
	ActionModifyTicket = "modify_jira_ticket"
	ActionAuthorize    = "authorize_starship"

	maxButtonValue = 2000
)

// TicketView is what a ticket-created message shows
type TicketView struct {
	Key      string
	URL      string
	Summary  string
	Assignee string
}

// DraftView is a proposed ticket awaiting confirmation
type DraftView struct {
	Title       string
	Description string
	IssueType   string
	Priority    string
	Value       string
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

// TicketCreatedText is the fallback text of a ticket-created message
func TicketCreatedText(t TicketView) string {
	return fmt.Sprintf("Ticket created: %s %s", t.Key, t.Summary)
}

// TicketCreatedBlocks renders a successful ticket creation
func TicketCreatedBlocks(t TicketView) []slack.Block {
	link := t.Key
	if t.URL != "" {
		link = fmt.Sprintf("<%s|%s>", t.URL, t.Key)
	}

	lines := []string{
		fmt.Sprintf(":white_check_mark: *Ticket created:* %s", link),
		fmt.Sprintf("*Summary:* %s", t.Summary),
	}
	if t.Assignee != "" {
		lines = append(lines, fmt.Sprintf("*Assignee:* %s", t.Assignee))
	}

	modify := slack.NewButtonBlockElement(ActionModifyTicket, t.Key, plain("Edit ticket"))
	if t.URL != "" {
		modify.URL = t.URL
	}

	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(strings.Join(lines, "\n")), nil, nil),
		slack.NewActionBlock("ticket_actions", modify),
	}
}

// ErrorBlocks renders a failure message
func ErrorBlocks(text string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(":x: "+text), nil, nil),
	}
}

// DraftBlocks renders a proposed ticket with a confirmation button
func DraftBlocks(d DraftView) []slack.Block {
	text := fmt.Sprintf("*Proposed ticket:* %s\n*Type:* %s  *Priority:* %s\n\n%s",
		d.Title, d.IssueType, d.Priority, truncate(d.Description, 2500))

	create := slack.NewButtonBlockElement(ActionCreateTicket, truncate(d.Value, maxButtonValue), plain("Create ticket"))
	create.Style = slack.StylePrimary

	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(text), nil, nil),
		slack.NewActionBlock("draft_actions", create),
	}
}

// OnboardingText is the fallback text of the onboarding DM
const OnboardingText = "Hi there, I'm starship! I can turn your conversations into tickets in seconds."

// OnboardingBlocks renders the one-time welcome DM
func OnboardingBlocks(authURL string) []slack.Block {
	intro := "Hi there, I'm starship!\n\nI automate creating tickets.\n\n" +
		"I can turn your conversations into tickets in seconds :fast_forward:\n\n" +
		"First, connect starship to your Jira site."

	authorize := slack.NewButtonBlockElement(ActionAuthorize, "authorize", plain("Authorize starship"))
	authorize.Style = slack.StylePrimary
	authorize.URL = authURL

	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(intro), nil, nil),
		slack.NewActionBlock("onboarding_actions", authorize),
	}
}

// HomeViewBlocks renders the App Home tab
func HomeViewBlocks(authURL string) []slack.Block {
	usage := "*1. @starship in a thread*\n" +
		"I'll organize the conversation into a ticket and post it on the thread.\n" +
		"Add \"assign to <name>\" to set the assignee, or start with \"draft\" to review before creating.\n\n" +
		"*2. Use /ticket*\n" +
		"Use /ticket to create an issue from anywhere.\n" +
		"Example: /ticket make a new task for the profile update in the next sprint"

	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("Create tickets in seconds")),
		slack.NewSectionBlock(mrkdwn(usage), nil, nil),
		slack.NewDividerBlock(),
		slack.NewHeaderBlock(plain("Settings")),
	}

	connect := slack.NewButtonBlockElement(ActionAuthorize, "authorize", plain("Connect Jira"))
	connect.URL = authURL
	blocks = append(blocks,
		slack.NewSectionBlock(mrkdwn("Connect or reconnect your Jira site."), nil, slack.NewAccessory(connect)))

	return blocks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	// Do not split a UTF-8 sequence
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
