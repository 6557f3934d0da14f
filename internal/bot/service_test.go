package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ghabxph/starship/internal/config"
	"github.com/ghabxph/starship/internal/dispatch"
	"github.com/ghabxph/starship/internal/metrics"
	"github.com/ghabxph/starship/internal/oauth"
	"github.com/ghabxph/starship/internal/repository"
	"github.com/ghabxph/starship/internal/webhook"
)

const secret = "signing-secret"

type fakeDispatcher struct {
	got    []webhook.Payload
	result dispatch.Result
	panic  bool
}

func (f *fakeDispatcher) Dispatch(p webhook.Payload) dispatch.Result {
	f.got = append(f.got, p)
	if f.panic {
		panic("dispatch exploded")
	}
	return f.result
}

// fakeScheduler records what had been written when deferred work was scheduled
type fakeScheduler struct {
	rec          *httptest.ResponseRecorder
	acked        *bool
	names        []string
	writtenFirst []bool
}

func (f *fakeScheduler) Go(name string, task dispatch.Task) {
	if task == nil {
		return
	}
	f.names = append(f.names, name)
	switch {
	case f.rec != nil:
		f.writtenFirst = append(f.writtenFirst, f.rec.Flushed)
	case f.acked != nil:
		f.writtenFirst = append(f.writtenFirst, *f.acked)
	}
}

type fakeOAuth struct {
	err error
}

func (f *fakeOAuth) AuthURL(teamID string) (string, error) {
	return "https://auth.atlassian.com/authorize?state=s-" + teamID, nil
}

func (f *fakeOAuth) Complete(_ context.Context, code, state string) (*repository.Workspace, *oauth.Resource, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &repository.Workspace{TeamID: "T1"}, &oauth.Resource{ID: "c1", Name: "acme", URL: "https://acme.atlassian.net"}, nil
}

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

type fakeHealth struct{ err error }

func (f fakeHealth) Health() error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		MaxBodyBytes:    1024,
		AuthResultURL:   "/auth-result",
		HealthCheckPath: "/health",
	}
}

func newService(t *testing.T, d Dispatcher, s Scheduler) *Service {
	return NewService(testConfig(), Deps{
		Dispatcher: d,
		Runner:     s,
		Verifier:   webhook.NewVerifier(secret, 5*time.Minute),
		OAuth:      &fakeOAuth{},
		Metrics:    metrics.New(),
	}, zaptest.NewLogger(t))
}

func signedRequest(method, path string, body string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	webhook.NewVerifier(secret, time.Minute).Sign(r.Header, []byte(body), time.Now())
	return r
}

func serve(s *Service, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSlack_MethodNotAllowed(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeScheduler{})
	for _, path := range []string{"/slack/events", "/slack/commands", "/slack/interactivity"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, "method not allowed", errorBody(t, rec))
	}
}

func TestSlack_BodyTooLarge(t *testing.T) {
	d := &fakeDispatcher{}
	s := newService(t, d, &fakeScheduler{})
	rec := serve(s, signedRequest(http.MethodPost, "/slack/events", strings.Repeat("a", 2048)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, d.got)
}

func TestSlack_InvalidSignature(t *testing.T) {
	d := &fakeDispatcher{}
	s := newService(t, d, &fakeScheduler{})

	r := signedRequest(http.MethodPost, "/slack/events", `{"type":"url_verification","challenge":"x"}`)
	r.Header.Set(webhook.HeaderSignature, "v0=deadbeef")
	rec := serve(s, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid signature", errorBody(t, rec))

	unsigned := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader("{}"))
	assert.Equal(t, http.StatusUnauthorized, serve(s, unsigned).Code)

	stale := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader("{}"))
	webhook.NewVerifier(secret, time.Minute).Sign(stale.Header, []byte("{}"), time.Now().Add(-10*time.Minute))
	assert.Equal(t, http.StatusUnauthorized, serve(s, stale).Code)

	assert.Empty(t, d.got)
}

func TestSlack_URLVerificationThroughDispatcher(t *testing.T) {
	d := dispatch.New(dispatch.Deps{Logger: zaptest.NewLogger(t)}, dispatch.Options{})
	s := newService(t, d, &fakeScheduler{})

	rec := serve(s, signedRequest(http.MethodPost, "/slack/events", `{"token":"t","challenge":"abc123","type":"url_verification"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestSlack_MalformedBodyIsOK(t *testing.T) {
	d := dispatch.New(dispatch.Deps{Logger: zaptest.NewLogger(t)}, dispatch.Options{})
	s := newService(t, d, &fakeScheduler{})

	rec := serve(s, signedRequest(http.MethodPost, "/slack/events", "{not json"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSlack_ResponseFlushedBeforeTask(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{
		Response: dispatch.Response{StatusCode: http.StatusOK},
		TaskName: dispatch.TaskSlashCommand,
		Task:     func(context.Context) error { return nil },
	}}
	sched := &fakeScheduler{}
	s := newService(t, d, sched)

	form := url.Values{"command": {"/ticket"}, "text": {"Fix login bug"}, "user_id": {"U1"}, "response_url": {"https://x"}}
	r := signedRequest(http.MethodPost, "/slack/commands", form.Encode())
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	sched.rec = rec
	s.Handler().ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	require.Len(t, d.got, 1)
	cmd, ok := d.got[0].(webhook.SlashCommand)
	require.True(t, ok)
	assert.Equal(t, "Fix login bug", cmd.Text)
	assert.Equal(t, []string{dispatch.TaskSlashCommand}, sched.names)
	assert.Equal(t, []bool{true}, sched.writtenFirst)
}

func TestSlack_RetryAcknowledgedWithoutWork(t *testing.T) {
	d := &fakeDispatcher{}
	s := newService(t, d, &fakeScheduler{})

	r := signedRequest(http.MethodPost, "/slack/events", `{"type":"event_callback","event":{"type":"app_mention"}}`)
	r.Header.Set(webhook.HeaderRetryNum, "1")
	rec := serve(s, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.got)
}

func TestSlack_DispatchPanicIs500(t *testing.T) {
	s := newService(t, &fakeDispatcher{panic: true}, &fakeScheduler{})
	rec := serve(s, signedRequest(http.MethodPost, "/slack/events", "{}"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", errorBody(t, rec))
}

func TestJiraAuth(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeScheduler{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/jira/auth", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/jira/auth?team_id=T1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://auth.atlassian.com/authorize?state=s-T1", rec.Header().Get("Location"))
}

func TestJiraCallback(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeScheduler{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/jira/callback?code=c&state=s", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth-result?resource=acme&success=true", rec.Header().Get("Location"))

	s.OAuth = &fakeOAuth{err: oauth.ErrInvalidState}
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/jira/callback?code=c&state=bad", nil))
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid oauth state", loc.Query().Get("error"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/jira/callback?error=access_denied", nil))
	assert.Contains(t, rec.Header().Get("Location"), "error=access_denied")
}

func TestAuthResult(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeScheduler{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/auth-result?success=true&resource=acme", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Jira connected: acme")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/auth-result?error=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")
}

func TestHealthVersionMetrics(t *testing.T) {
	s := newService(t, &fakeDispatcher{}, &fakeScheduler{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	s.Health = fakeHealth{err: errors.New("db down")}
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.Health = nil
	s.Stats = fakeStats{"tracked_users": 3}
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health struct {
		Authorization map[string]int `json:"authorization"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, 3, health.Authorization["tracked_users"])

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "starship", info["app"])

	serve(s, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	s.Metrics.RequestRejected("signature")
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "starship_webhook_rejections_total")
}

type fakeAcker struct {
	acked bool
	count int
}

func (f *fakeAcker) Ack(socketmode.Request, ...interface{}) {
	f.acked = true
	f.count++
}

func newSocket(t *testing.T, d Dispatcher) (*SocketMode, *fakeAcker, *fakeScheduler) {
	acker := &fakeAcker{}
	sched := &fakeScheduler{acked: &acker.acked}
	return &SocketMode{acker: acker, dispatcher: d, runner: sched, logger: zaptest.NewLogger(t)}, acker, sched
}

func TestSocket_SlashCommandAckedBeforeTask(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{TaskName: dispatch.TaskSlashCommand, Task: func(context.Context) error { return nil }}}
	s, acker, sched := newSocket(t, d)

	s.handle(socketmode.Event{
		Type:    socketmode.EventTypeSlashCommand,
		Data:    slack.SlashCommand{Command: "/ticket", Text: "Fix login", UserID: "U1", TeamID: "T1"},
		Request: &socketmode.Request{EnvelopeID: "e1"},
	})

	assert.Equal(t, 1, acker.count)
	require.Len(t, d.got, 1)
	assert.Equal(t, webhook.KindSlashCommand, d.got[0].Kind())
	assert.Equal(t, []bool{true}, sched.writtenFirst)
}

func TestSocket_EventsAPIUsesClassifier(t *testing.T) {
	d := &fakeDispatcher{}
	s, acker, _ := newSocket(t, d)

	s.handle(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{
			EnvelopeID: "e2",
			Payload:    json.RawMessage(`{"type":"event_callback","team_id":"T1","event":{"type":"app_home_opened","user":"U1"}}`),
		},
	})

	assert.Equal(t, 1, acker.count)
	require.Len(t, d.got, 1)
	ev, ok := d.got[0].(webhook.EventCallback)
	require.True(t, ok)
	assert.Equal(t, "app_home_opened", ev.EventType)
}

func TestSocket_RetryAndNoise(t *testing.T) {
	d := &fakeDispatcher{}
	s, acker, _ := newSocket(t, d)

	s.handle(socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "e3", RetryAttempt: 1, Payload: json.RawMessage(`{"type":"event_callback"}`)},
	})
	s.handle(socketmode.Event{Type: socketmode.EventTypeConnected})

	assert.Equal(t, 1, acker.count)
	assert.Empty(t, d.got)
}
