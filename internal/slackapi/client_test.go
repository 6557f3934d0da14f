package slackapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSlack struct {
	mu       sync.Mutex
	calls    map[string]int
	forms    map[string][]map[string]string
	handlers map[string]func(w http.ResponseWriter, r *http.Request, call int)
}

func newFakeSlack(t *testing.T) (*fakeSlack, *httptest.Server) {
	f := &fakeSlack{
		calls:    make(map[string]int),
		forms:    make(map[string][]map[string]string),
		handlers: make(map[string]func(http.ResponseWriter, *http.Request, int)),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}

		f.mu.Lock()
		f.calls[method]++
		call := f.calls[method]
		f.forms[method] = append(f.forms[method], form)
		h := f.handlers[method]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if h != nil {
			h(w, r, call)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	api := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return New(api, srv.Client(), time.Millisecond, zaptest.NewLogger(t))
}

func TestPostMessage_Thread(t *testing.T) {
	fake, srv := newFakeSlack(t)
	fake.handlers["chat.postMessage"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		io.WriteString(w, `{"ok":true,"channel":"C1","ts":"2.2"}`)
	}
	c := newTestClient(t, srv)

	ts, err := c.PostMessage(context.Background(), "C1", "1.1", "hello", ErrorBlocks("nope"))
	require.NoError(t, err)
	assert.Equal(t, "2.2", ts)

	form := fake.forms["chat.postMessage"][0]
	assert.Equal(t, "C1", form["channel"])
	assert.Equal(t, "1.1", form["thread_ts"])
	assert.Equal(t, "hello", form["text"])
	assert.Contains(t, form["blocks"], "nope")
}

func TestGetThreadReplies_RetriesOnce(t *testing.T) {
	fake, srv := newFakeSlack(t)
	fake.handlers["conversations.replies"] = func(w http.ResponseWriter, _ *http.Request, call int) {
		if call == 1 {
			io.WriteString(w, `{"ok":false,"error":"internal_error"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"has_more":false,"messages":[
			{"user":"U1","text":"login is broken","ts":"1.1"},
			{"user":"U2","text":"on iOS only","ts":"1.2"}]}`)
	}
	c := newTestClient(t, srv)

	msgs, err := c.GetThreadReplies(context.Background(), "C1", "1.1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "on iOS only", msgs[1].Text)
	assert.Equal(t, 2, fake.calls["conversations.replies"])
}

func TestGetThreadReplies_GivesUpAfterRetry(t *testing.T) {
	fake, srv := newFakeSlack(t)
	fake.handlers["conversations.replies"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		io.WriteString(w, `{"ok":false,"error":"internal_error"}`)
	}
	c := newTestClient(t, srv)

	_, err := c.GetThreadReplies(context.Background(), "C1", "1.1")
	assert.Error(t, err)
	assert.Equal(t, 2, fake.calls["conversations.replies"])
}

func TestAddReaction_AlreadyReacted(t *testing.T) {
	fake, srv := newFakeSlack(t)
	fake.handlers["reactions.add"] = func(w http.ResponseWriter, _ *http.Request, _ int) {
		io.WriteString(w, `{"ok":false,"error":"already_reacted"}`)
	}
	c := newTestClient(t, srv)

	require.NoError(t, c.AddReaction(context.Background(), "C1", "1.1", "thinking_face"))
	form := fake.forms["reactions.add"][0]
	assert.Equal(t, "thinking_face", form["name"])
	assert.Equal(t, "C1", form["channel"])
	assert.Equal(t, "1.1", form["timestamp"])
}

func TestPostEphemeral(t *testing.T) {
	fake, srv := newFakeSlack(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.PostEphemeral(context.Background(), "C1", "U1", "only you"))
	form := fake.forms["chat.postEphemeral"][0]
	assert.Equal(t, "U1", form["user"])
	assert.Equal(t, "only you", form["text"])
}

func TestRespond(t *testing.T) {
	var got map[string]interface{}
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, "ok")
	}))
	defer hook.Close()
	_, srv := newFakeSlack(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.RespondEphemeral(context.Background(), hook.URL, "not configured"))
	assert.Equal(t, "ephemeral", got["response_type"])
	assert.Equal(t, "not configured", got["text"])
}

func TestRespond_Failure(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer hook.Close()
	_, srv := newFakeSlack(t)
	c := newTestClient(t, srv)

	assert.Error(t, c.RespondEphemeral(context.Background(), hook.URL, "x"))
}

func TestPublishHomeView(t *testing.T) {
	fake, srv := newFakeSlack(t)
	var body string
	fake.handlers["views.publish"] = func(w http.ResponseWriter, r *http.Request, _ int) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		io.WriteString(w, `{"ok":true,"view":{"id":"V1"}}`)
	}
	c := newTestClient(t, srv)

	require.NoError(t, c.PublishHomeView(context.Background(), "U1", HomeViewBlocks("https://s.example.com/jira/auth")))
	assert.Equal(t, 1, fake.calls["views.publish"])
	assert.Contains(t, body, `"user_id":"U1"`)
	assert.Contains(t, body, "Create tickets in seconds")
}

func TestPostToChannels(t *testing.T) {
	fake, srv := newFakeSlack(t)
	fake.handlers["chat.postMessage"] = func(w http.ResponseWriter, r *http.Request, _ int) {
		if r.Form.Get("channel") == "C-bad" {
			io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"ts":"1.1"}`)
	}
	c := newTestClient(t, srv)

	failed := c.PostToChannels(context.Background(), []string{"C1", "C-bad", "C2"}, "deployed")
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, fake.calls["chat.postMessage"])
}

func TestBlocks(t *testing.T) {
	created := TicketCreatedBlocks(TicketView{Key: "OPS-1", URL: "https://acme.atlassian.net/browse/OPS-1", Summary: "Fix login", Assignee: "Joe"})
	raw, err := json.Marshal(created)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<https://acme.atlassian.net/browse/OPS-1|OPS-1>")
	assert.Contains(t, string(raw), ActionModifyTicket)

	onboarding, err := json.Marshal(OnboardingBlocks("https://s.example.com/jira/auth?team_id=T1"))
	require.NoError(t, err)
	assert.Contains(t, string(onboarding), "team_id=T1")

	draft, err := json.Marshal(DraftBlocks(DraftView{Title: "T", Value: strings.Repeat("x", 5000)}))
	require.NoError(t, err)
	assert.Contains(t, string(draft), ActionCreateTicket)

	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "...", truncate("ééé", 4))
}
