package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SLACK_SIGNING_SECRET", "secret")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("JIRA_CLIENT_ID", "client")
	t.Setenv("JIRA_CLIENT_SECRET", "client-secret")
	t.Setenv("JIRA_REDIRECT_URI", "https://starship.example.com/jira/callback")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JIRA_PROJECT_KEY", "OPS")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Minute, cfg.SignatureTolerance)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "Task", cfg.JiraIssueType)
	assert.Equal(t, "client-secret", cfg.OAuthStateSecret)
	assert.Equal(t, "https://starship.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "https://starship.example.com/jira/auth?team_id=T1", cfg.AuthStartURL("T1"))
	assert.False(t, cfg.HasDefaultJira())
}

func TestLoad_MissingRequiredListsAll(t *testing.T) {
	setRequired(t)
	t.Setenv("SLACK_SIGNING_SECRET", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "SLACK_SIGNING_SECRET"))
	assert.True(t, strings.Contains(err.Error(), "OPENAI_API_KEY"))
	assert.False(t, strings.Contains(err.Error(), "SLACK_BOT_TOKEN"))
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SLACK_REQUEST_TOLERANCE", "90s")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("ALLOWED_USERS", "U1, U2,")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("JIRA_BASE_URL", "https://acme.atlassian.net")
	t.Setenv("JIRA_EMAIL", "bot@acme.com")
	t.Setenv("JIRA_API_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 90*time.Second, cfg.SignatureTolerance)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, []string{"U1", "U2"}, cfg.AllowedUsers)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.True(t, cfg.HasDefaultJira())
	assert.True(t, cfg.IsUserAllowed("U2"))
	assert.False(t, cfg.IsUserAllowed("U3"))
	assert.True(t, cfg.IsChannelAllowed("C1"))
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFERRED_TASK_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DEFERRED_TASK_TIMEOUT")
}

func TestValidate_UnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "mongo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}
