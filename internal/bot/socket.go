package bot

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/webhook"
)

// Acker acknowledges a Socket Mode envelope
type Acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// SocketMode feeds Socket Mode envelopes through the same dispatcher as
// the HTTP transport. Envelopes are acked before deferred work starts.
type SocketMode struct {
	client     *socketmode.Client
	acker      Acker
	dispatcher Dispatcher
	runner     Scheduler
	logger     *zap.Logger
}

func NewSocketMode(api *slack.Client, debug bool, dispatcher Dispatcher, runner Scheduler, logger *zap.Logger) *SocketMode {
	client := socketmode.New(api, socketmode.OptionDebug(debug))
	return &SocketMode{
		client:     client,
		acker:      client,
		dispatcher: dispatcher,
		runner:     runner,
		logger:     logger,
	}
}

// Run connects and handles events until ctx is cancelled
func (s *SocketMode) Run(ctx context.Context) error {
	go s.handleEvents(ctx)
	return s.client.RunContext(ctx)
}

// handleEvents handles incoming Slack events
func (s *SocketMode) handleEvents(ctx context.Context) {
	for {
		select {
		case evt, ok := <-s.client.Events:
			if !ok {
				return
			}
			s.handle(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SocketMode) handle(evt socketmode.Event) {
	var payload webhook.Payload

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Info("Connecting to Slack with Socket Mode")
		return
	case socketmode.EventTypeConnected:
		s.logger.Info("Connected to Slack with Socket Mode")
		return
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("Socket Mode connection failed, retrying")
		return

	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		payload = webhook.Classify(evt.Request.Payload)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			s.logger.Warn("Failed to type assert slash command")
			s.ack(evt)
			return
		}
		payload = webhook.FromSlashCommand(cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			s.logger.Warn("Failed to type assert interaction callback")
			s.ack(evt)
			return
		}
		payload = webhook.FromInteraction(cb)

	default:
		s.logger.Debug("Received unhandled event", zap.String("type", string(evt.Type)))
		return
	}

	if evt.Request != nil && evt.Request.RetryAttempt > 0 {
		s.logger.Info("Acknowledging Slack retry",
			zap.Int("retry_attempt", evt.Request.RetryAttempt),
			zap.String("reason", evt.Request.RetryReason))
		s.ack(evt)
		return
	}

	result := s.dispatcher.Dispatch(payload)
	s.ack(evt)
	s.runner.Go(result.TaskName, result.Task)
}

func (s *SocketMode) ack(evt socketmode.Event) {
	if evt.Request != nil {
		s.acker.Ack(*evt.Request)
	}
}
