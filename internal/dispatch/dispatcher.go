// Package dispatch routes classified Slack payloads to their handlers.
//
// Dispatch is synchronous and free of side effects other than logging. It
// returns the response the transport must write and, optionally, a task the
// transport starts on a Runner once that response is flushed.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/auth"
	"github.com/ghabxph/starship/internal/logging"
	"github.com/ghabxph/starship/internal/repository"
	"github.com/ghabxph/starship/internal/slackapi"
	"github.com/ghabxph/starship/internal/summarize"
	"github.com/ghabxph/starship/internal/ticket"
	"github.com/ghabxph/starship/internal/webhook"
)

// Task names
const (
	TaskSlashCommand      = "slash_command"
	TaskAppMention        = "app_mention"
	TaskAppHomeOpened     = "app_home_opened"
	TaskInteractiveAction = "interactive_action"
)

// Task is deferred work. The returned error is only used for logging and
// metrics; user-facing reporting happens inside the task.
type Task func(ctx context.Context) error

// Response is what the transport writes before starting the task
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is the outcome of dispatching one payload
type Result struct {
	Response Response
	TaskName string
	Task     Task
}

// ChatPlatform is the subset of the Slack Web API used by deferred work
type ChatPlatform interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string, blocks []slack.Block) (string, error)
	PostThreadReply(ctx context.Context, channelID, threadTS, text string) error
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
	SendDirectMessage(ctx context.Context, userID, text string, blocks []slack.Block) error
	Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error
	RespondEphemeral(ctx context.Context, responseURL, text string) error
	GetThreadReplies(ctx context.Context, channelID, threadTS string) ([]slackapi.Message, error)
	AddReaction(ctx context.Context, channelID, ts, name string) error
	PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error
}

type Summarizer interface {
	SummarizeConversation(ctx context.Context, msgs []summarize.Message, hint string) (*summarize.Summary, error)
}

type TicketFactory interface {
	ForWorkspace(ctx context.Context, ws *repository.Workspace) (ticket.Service, error)
}

type Authorizer interface {
	AuthorizeUser(ctx auth.AuthContext) error
}

// Recorder observes dispatched payloads and created tickets
type Recorder interface {
	RequestReceived(kind string)
	TicketCreated(provider string)
}

// Deps are the collaborators of a Dispatcher. Policy and Metrics are optional.
type Deps struct {
	Chat       ChatPlatform
	Summarizer Summarizer
	Tickets    TicketFactory
	Workspaces repository.WorkspaceRepository
	Onboarding repository.OnboardingRepository
	Policy     Authorizer
	Metrics    Recorder
	Logger     *zap.Logger
}

// Options are workspace-independent defaults
type Options struct {
	DefaultProjectKey string
	DefaultIssueType  string
	// AuthURL returns the link that starts the Jira connection for a team
	AuthURL func(teamID string) string
}

type Dispatcher struct {
	Deps
	opts     Options
	reporter *logging.DualLogger
}

func New(deps Deps, opts Options) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if opts.AuthURL == nil {
		opts.AuthURL = func(string) string { return "" }
	}
	return &Dispatcher{
		Deps:     deps,
		opts:     opts,
		reporter: logging.NewDualLogger(deps.Logger, deps.Chat),
	}
}

// Dispatch maps a payload to its immediate response and deferred work
func (d *Dispatcher) Dispatch(p webhook.Payload) Result {
	d.Metrics.RequestReceived(string(p.Kind()))

	switch p := p.(type) {
	case webhook.URLVerification:
		return Result{Response: Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:       []byte(p.Challenge),
		}}

	case webhook.SlashCommand:
		d.Logger.Info("Received slash command",
			zap.String("command", p.Command),
			zap.String("user_id", p.UserID),
			zap.String("team_id", p.TeamID),
			zap.String("channel_id", p.ChannelID))
		return ack(TaskSlashCommand, d.slashCommandTask(p))

	case webhook.EventCallback:
		return d.dispatchEvent(p)

	case webhook.InteractiveAction:
		return d.dispatchAction(p)

	case webhook.Unknown:
		fields := []zap.Field{zap.ByteString("raw", clipBytes(p.Raw, 512))}
		if p.Err != nil {
			fields = append(fields, zap.Error(p.Err))
		}
		d.Logger.Warn("Unclassified payload", fields...)
		return okText()
	}

	return okText()
}

func (d *Dispatcher) dispatchEvent(ev webhook.EventCallback) Result {
	switch ev.EventType {
	case string(slackevents.AppMention):
		var mention slackevents.AppMentionEvent
		if err := json.Unmarshal(ev.Event, &mention); err != nil {
			d.Logger.Warn("Invalid app_mention event", zap.Error(err))
			return ack("", nil)
		}
		if mention.BotID != "" || mention.User == "" {
			d.Logger.Debug("Ignoring mention from bot", zap.String("bot_id", mention.BotID))
			return ack("", nil)
		}
		return ack(TaskAppMention, d.mentionTask(ev.TeamID, &mention))

	case string(slackevents.AppHomeOpened):
		var opened slackevents.AppHomeOpenedEvent
		if err := json.Unmarshal(ev.Event, &opened); err != nil || opened.User == "" {
			d.Logger.Warn("Invalid app_home_opened event", zap.Error(err))
			return ack("", nil)
		}
		return ack(TaskAppHomeOpened, d.homeOpenedTask(ev.TeamID, &opened))
	}

	d.Logger.Debug("Ignoring event", zap.String("event_type", ev.EventType), zap.String("event_id", ev.EventID))
	return ack("", nil)
}

func ack(name string, task Task) Result {
	return Result{
		Response: Response{StatusCode: http.StatusOK},
		TaskName: name,
		Task:     task,
	}
}

func okText() Result {
	return Result{Response: Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte("OK"),
	}}
}

func clipBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

type nopRecorder struct{}

func (nopRecorder) RequestReceived(string) {}
func (nopRecorder) TicketCreated(string)   {}

