package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ghabxph/starship/internal/repository"
)

func TestStateCodec(t *testing.T) {
	c := NewStateCodec("secret", time.Minute)
	state := c.Encode("T123")

	team, err := c.Decode(state)
	require.NoError(t, err)
	assert.Equal(t, "T123", team)

	assert.NotEqual(t, state, c.Encode("T123"), "each state carries a fresh nonce")

	_, err = c.Decode(state + "00")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Decode("garbage")
	assert.ErrorIs(t, err, ErrInvalidState)

	other := NewStateCodec("other", time.Minute)
	_, err = other.Decode(state)
	assert.ErrorIs(t, err, ErrInvalidState)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.Decode(state)
	assert.ErrorIs(t, err, ErrExpiredState)
}

func TestStateCodec_TeamIDWithSeparator(t *testing.T) {
	c := NewStateCodec("secret", time.Minute)
	for _, teamID := range []string{"T|1", "|T1", "a|b|c"} {
		team, err := c.Decode(c.Encode(teamID))
		require.NoError(t, err, teamID)
		assert.Equal(t, teamID, team)
	}

	// Validly signed payload without a nonce field
	payload := base64.RawURLEncoding.EncodeToString([]byte("T1|" + strconv.FormatInt(time.Now().Unix(), 10)))
	_, err := c.Decode(payload + "." + c.sign(payload))
	assert.ErrorIs(t, err, ErrInvalidState)
}

type atlassian struct {
	srv          *httptest.Server
	tokenCalls   int32
	lastGrant    string
	resourceHits int32
	failFirst    bool
}

func newAtlassian(t *testing.T) *atlassian {
	a := &atlassian{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		n := atomic.AddInt32(&a.tokenCalls, 1)
		a.lastGrant = r.PostForm.Get("grant_type")
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-" + string(rune('0'+n)),
			"refresh_token": "refresh-" + string(rune('0'+n)),
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&a.resourceHits, 1) == 1 && a.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-"))
		io.WriteString(w, `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme","scopes":["write:jira-work"]}]`)
	})
	mux.HandleFunc("/ex/jira/cloud-1/myself", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("Authorization"))
	})
	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func newManager(t *testing.T, a *atlassian, store repository.WorkspaceRepository) *Manager {
	return NewManager(Options{
		ClientID:          "cid",
		ClientSecret:      "csecret",
		RedirectURI:       "https://bot.example.com/jira/callback",
		StateSecret:       "state-secret",
		DefaultProjectKey: "OPS",
		DefaultIssueType:  "Task",
		AuthURL:           a.srv.URL + "/authorize",
		TokenURL:          a.srv.URL + "/oauth/token",
		ResourcesURL:      a.srv.URL + "/accessible-resources",
	}, store, a.srv.Client(), time.Millisecond, zaptest.NewLogger(t))
}

func TestManager_AuthURL(t *testing.T) {
	a := newAtlassian(t)
	m := newManager(t, a, repository.NewMemoryStore())

	raw, err := m.AuthURL("T1")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "api.atlassian.com", q.Get("audience"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "offline_access")

	team, err := m.state.Decode(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "T1", team)

	_, err = m.AuthURL(" ")
	assert.Error(t, err)
}

func TestManager_Complete(t *testing.T) {
	a := newAtlassian(t)
	a.failFirst = true
	store := repository.NewMemoryStore()
	m := newManager(t, a, store)
	ctx := context.Background()

	ws, site, err := m.Complete(ctx, "the-code", m.state.Encode("T1"))
	require.NoError(t, err)
	assert.Equal(t, "cloud-1", site.ID)
	assert.Equal(t, "authorization_code", a.lastGrant)
	assert.Equal(t, int32(2), atomic.LoadInt32(&a.resourceHits), "resources lookup retried once")

	saved, err := store.GetWorkspace(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, ws.AccessToken, saved.AccessToken)
	assert.Equal(t, "https://acme.atlassian.net", saved.JiraSiteURL)
	assert.Equal(t, "OPS", saved.DefaultProjectKey)
	assert.True(t, saved.UsesOAuth())

	_, _, err = m.Complete(ctx, "the-code", "forged.state")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestManager_ClientPersistsRefreshedToken(t *testing.T) {
	a := newAtlassian(t)
	store := repository.NewMemoryStore()
	m := newManager(t, a, store)
	ctx := context.Background()

	ws := &repository.Workspace{
		TeamID:       "T1",
		JiraCloudID:  "cloud-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		TokenExpiry:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.SaveWorkspace(ctx, ws))

	resp, err := m.Client(ctx, ws).Get(a.srv.URL + "/ex/jira/cloud-1/myself")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "Bearer access-1", string(body))
	assert.Equal(t, "refresh_token", a.lastGrant)

	saved, err := store.GetWorkspace(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
	assert.True(t, saved.TokenExpiry.After(time.Now()))
}

func TestManager_ClientReusesValidToken(t *testing.T) {
	a := newAtlassian(t)
	m := newManager(t, a, repository.NewMemoryStore())

	ws := &repository.Workspace{TeamID: "T1", JiraCloudID: "cloud-1", AccessToken: "access-live", TokenExpiry: time.Now().Add(time.Hour)}
	resp, err := m.Client(context.Background(), ws).Get(a.srv.URL + "/ex/jira/cloud-1/myself")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "Bearer access-live", string(body))
	assert.Equal(t, int32(0), atomic.LoadInt32(&a.tokenCalls))
}
