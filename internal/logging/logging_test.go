package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	calls []string
	texts []string
	err   error
}

func (s *recordingSink) RespondEphemeral(_ context.Context, responseURL, text string) error {
	s.calls = append(s.calls, "respond:"+responseURL)
	s.texts = append(s.texts, text)
	return s.err
}

func (s *recordingSink) PostThreadReply(_ context.Context, channelID, threadTS, text string) error {
	s.calls = append(s.calls, "thread:"+channelID+"/"+threadTS)
	s.texts = append(s.texts, text)
	return s.err
}

func (s *recordingSink) PostEphemeral(_ context.Context, channelID, userID, text string) error {
	s.calls = append(s.calls, "ephemeral:"+channelID+"/"+userID)
	s.texts = append(s.texts, text)
	return s.err
}

func TestNew(t *testing.T) {
	logger, err := New("info", "json", false)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = New("loud", "json", false)
	assert.Error(t, err)

	_, err = New("info", "xml", false)
	assert.Error(t, err)
}

func TestDualLogger_Routing(t *testing.T) {
	tests := []struct {
		name   string
		errCtx *ErrorContext
		want   string
	}{
		{
			name:   "response url first",
			errCtx: CreateErrorContext("T1", "C1", "U1", "dispatch", "slash_command").WithResponseURL("https://x").WithThread("1.2"),
			want:   "respond:https://x",
		},
		{
			name:   "thread reply",
			errCtx: CreateErrorContext("T1", "C1", "U1", "dispatch", "app_mention").WithThread("1.2"),
			want:   "thread:C1/1.2",
		},
		{
			name:   "ephemeral",
			errCtx: CreateErrorContext("T1", "C1", "U1", "dispatch", "interactive_action"),
			want:   "ephemeral:C1/U1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			dl := NewDualLogger(zaptest.NewLogger(t), sink)
			dl.LogError(context.Background(), tt.errCtx, errors.New("boom"), "Ticket creation failed")
			require.Len(t, sink.calls, 1)
			assert.Equal(t, tt.want, sink.calls[0])
			assert.Equal(t, ":x: Ticket creation failed", sink.texts[0])
		})
	}
}

func TestDualLogger_UserMessageAndNoTarget(t *testing.T) {
	sink := &recordingSink{err: errors.New("slack down")}
	dl := NewDualLogger(zaptest.NewLogger(t), sink)

	errCtx := CreateErrorContext("T1", "C1", "U1", "dispatch", "x").WithUserMessage("Try again later")
	dl.LogError(context.Background(), errCtx, errors.New("boom"), "failed twice")
	require.Len(t, sink.texts, 1)
	assert.Equal(t, "Try again later", sink.texts[0])

	dl.LogError(context.Background(), CreateErrorContext("T1", "", "", "dispatch", "x"), errors.New("boom"), "nowhere")
	assert.Len(t, sink.calls, 1)
}
