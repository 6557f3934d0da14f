package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// SlackSink delivers error messages back to the user who triggered them
type SlackSink interface {
	RespondEphemeral(ctx context.Context, responseURL, text string) error
	PostThreadReply(ctx context.Context, channelID, threadTS, text string) error
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

// DualLogger logs errors to the console and reports them to Slack
type DualLogger struct {
	zapLogger *zap.Logger
	sink      SlackSink
}

// ErrorContext describes where an error happened and how to reach the user
type ErrorContext struct {
	TeamID      string
	ChannelID   string
	UserID      string
	ThreadTS    string
	ResponseURL string
	Component   string
	Operation   string
	UserMessage string
}

// NewDualLogger creates a new dual logger instance
func NewDualLogger(zapLogger *zap.Logger, sink SlackSink) *DualLogger {
	return &DualLogger{
		zapLogger: zapLogger,
		sink:      sink,
	}
}

// LogError logs err and, when the context identifies a user, tells them about it.
// A response URL takes precedence, then a thread, then an ephemeral message.
func (dl *DualLogger) LogError(ctx context.Context, errCtx *ErrorContext, err error, message string) {
	dl.logToConsole(errCtx, err, message)

	if dl.sink == nil {
		return
	}
	text := errCtx.UserMessage
	if text == "" {
		text = fmt.Sprintf(":x: %s", message)
	}

	var sendErr error
	switch {
	case errCtx.ResponseURL != "":
		sendErr = dl.sink.RespondEphemeral(ctx, errCtx.ResponseURL, text)
	case errCtx.ChannelID != "" && errCtx.ThreadTS != "":
		sendErr = dl.sink.PostThreadReply(ctx, errCtx.ChannelID, errCtx.ThreadTS, text)
	case errCtx.ChannelID != "" && errCtx.UserID != "":
		sendErr = dl.sink.PostEphemeral(ctx, errCtx.ChannelID, errCtx.UserID, text)
	default:
		return
	}

	// Never report a failed report back to Slack
	if sendErr != nil {
		dl.zapLogger.Error("Failed to post error message to Slack",
			zap.String("channel_id", errCtx.ChannelID),
			zap.String("operation", errCtx.Operation),
			zap.Error(sendErr))
	}
}

func (dl *DualLogger) logToConsole(errCtx *ErrorContext, err error, message string) {
	dl.zapLogger.Error(message,
		zap.String("component", errCtx.Component),
		zap.String("operation", errCtx.Operation),
		zap.String("team_id", errCtx.TeamID),
		zap.String("channel_id", errCtx.ChannelID),
		zap.String("user_id", errCtx.UserID),
		zap.Error(err),
		zap.String("stack_trace", string(debug.Stack())))
}

// CreateErrorContext creates an ErrorContext from common parameters
func CreateErrorContext(teamID, channelID, userID, component, operation string) *ErrorContext {
	return &ErrorContext{
		TeamID:    teamID,
		ChannelID: channelID,
		UserID:    userID,
		Component: component,
		Operation: operation,
	}
}

// WithThread routes the user-facing message into a thread
func (ec *ErrorContext) WithThread(threadTS string) *ErrorContext {
	ec.ThreadTS = threadTS
	return ec
}

// WithResponseURL routes the user-facing message through a response URL
func (ec *ErrorContext) WithResponseURL(responseURL string) *ErrorContext {
	ec.ResponseURL = responseURL
	return ec
}

// WithUserMessage sets the text shown to the user
func (ec *ErrorContext) WithUserMessage(text string) *ErrorContext {
	ec.UserMessage = text
	return ec
}
