// Package slackapi wraps the Slack Web API calls Starship makes.
package slackapi

import (
	"context"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/apierr"
)

const (
	service         = "slack"
	maxReplyPages   = 5
	repliesPageSize = 200
)

// Message is one message of a conversation thread
type Message struct {
	User  string
	Text  string
	TS    string
	BotID string
}

// Client posts to Slack on behalf of the bot
type Client struct {
	api          *slack.Client
	httpClient   *http.Client
	retryBackoff time.Duration
	logger       *zap.Logger
}

// New wraps api. httpClient is used for response URL posts.
func New(api *slack.Client, httpClient *http.Client, retryBackoff time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		api:          api,
		httpClient:   httpClient,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// BotUserID returns the user id of the bot token
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", apierr.Wrap(service, "auth.test", err)
	}
	return resp.UserID, nil
}

// PostMessage posts to a channel, or to a thread when threadTS is set
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string, blocks []slack.Block) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", apierr.Wrap(service, "chat.postMessage", err)
	}
	return ts, nil
}

// PostThreadReply posts plain text into a thread
func (c *Client) PostThreadReply(ctx context.Context, channelID, threadTS, text string) error {
	_, err := c.PostMessage(ctx, channelID, threadTS, text, nil)
	return err
}

// SendDirectMessage opens (or reuses) the DM with userID and posts there
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string, blocks []slack.Block) error {
	_, err := c.PostMessage(ctx, userID, "", text, blocks)
	return err
}

// PostEphemeral posts a message only userID can see
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	_, err := c.api.PostEphemeralContext(ctx, channelID, userID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(false))
	if err != nil {
		return apierr.Wrap(service, "chat.postEphemeral", err)
	}
	return nil
}

// Respond posts msg to a slash command or interaction response URL
func (c *Client) Respond(ctx context.Context, responseURL string, msg *slack.WebhookMessage) error {
	if err := slack.PostWebhookCustomHTTPContext(ctx, responseURL, c.httpClient, msg); err != nil {
		return apierr.Wrap(service, "response_url", err)
	}
	return nil
}

// RespondEphemeral posts plain text visible only to the invoking user
func (c *Client) RespondEphemeral(ctx context.Context, responseURL, text string) error {
	return c.Respond(ctx, responseURL, &slack.WebhookMessage{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
	})
}

// GetThreadReplies returns every message of a thread, parent first.
// Each page is retried once on failure.
func (c *Client) GetThreadReplies(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	var (
		out    []Message
		cursor string
	)
	for page := 0; page < maxReplyPages; page++ {
		params := &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     repliesPageSize,
		}

		var (
			msgs    []slack.Message
			hasMore bool
			next    string
		)
		err := apierr.RetryIdempotent(ctx, c.retryBackoff, func(ctx context.Context) error {
			var err error
			msgs, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, params)
			return err
		})
		if err != nil {
			return nil, apierr.Wrap(service, "conversations.replies", err)
		}

		for _, m := range msgs {
			out = append(out, Message{User: m.User, Text: m.Text, TS: m.Timestamp, BotID: m.BotID})
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// AddReaction reacts to a message. Reacting twice is not an error.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, name string) error {
	err := c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channelID, ts))
	if err != nil && err.Error() != "already_reacted" {
		return apierr.Wrap(service, "reactions.add", err)
	}
	return nil
}

// PublishHomeView replaces the App Home tab of userID
func (c *Client) PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error {
	view := slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
	if _, err := c.api.PublishViewContext(ctx, userID, view, ""); err != nil {
		return apierr.Wrap(service, "views.publish", err)
	}
	return nil
}

// PostToChannels posts text to every channel concurrently and returns the
// number of failures.
func (c *Client) PostToChannels(ctx context.Context, channels []string, text string) int {
	errCh := make(chan error, len(channels))
	for _, channel := range channels {
		go func(ch string) {
			_, err := c.PostMessage(ctx, ch, "", text, nil)
			if err != nil {
				c.logger.Error("Failed to post channel message",
					zap.String("channel", ch),
					zap.Error(err))
			}
			errCh <- err
		}(channel)
	}

	failed := 0
	for range channels {
		if err := <-errCh; err != nil {
			failed++
		}
	}
	return failed
}
