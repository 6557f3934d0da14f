package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends for workspace and onboarding state
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Config holds all configuration for the Starship bot
type Config struct {
	// Slack configuration
	SlackBotToken      string
	SlackAppToken      string
	SlackSigningSecret string
	SignatureTolerance time.Duration
	MaxBodyBytes       int64

	// Jira OAuth (3LO) configuration
	JiraClientID     string
	JiraClientSecret string
	JiraRedirectURI  string
	JiraProjectKey   string
	JiraIssueType    string
	OAuthStateSecret string
	AuthResultURL    string
	PublicBaseURL    string

	// Default workspace used when a team has not completed OAuth
	JiraBaseURL    string
	JiraEmail      string
	JiraAPIToken   string
	MondayAPIToken string
	MondayBoardID  string
	MondayColumn   string
	MondayAPIURL   string

	// Summarization
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Deferred work and outbound calls
	DeferredTaskTimeout time.Duration
	HTTPClientTimeout   time.Duration
	RetryBackoff        time.Duration

	// Access policy
	AllowedChannels    []string
	AllowedUsers       []string
	RateLimitPerMinute int

	// Logging configuration
	LogLevel    string
	LogFormat   string
	EnableDebug bool

	// Server configuration
	ServerPort      int
	ServerHost      string
	HealthCheckPath string

	// Storage configuration
	StoreBackend   string
	Database       DatabaseConfig
	SQLitePath     string
	RedisURL       string
	WorkspacesFile string

	NotificationChannels []string
}

// requiredVars must be present at startup
var requiredVars = []string{
	"SLACK_SIGNING_SECRET",
	"SLACK_BOT_TOKEN",
	"JIRA_CLIENT_ID",
	"JIRA_CLIENT_SECRET",
	"JIRA_REDIRECT_URI",
	"OPENAI_API_KEY",
	"JIRA_PROJECT_KEY",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		SignatureTolerance:  5 * time.Minute,
		MaxBodyBytes:        1 << 20,
		JiraIssueType:       "Task",
		AuthResultURL:       "/auth-result",
		MondayAPIURL:        "https://api.monday.com/v2",
		OpenAIModel:         "gpt-4o-mini",
		DeferredTaskTimeout: 25 * time.Second,
		HTTPClientTimeout:   10 * time.Second,
		RetryBackoff:        300 * time.Millisecond,
		RateLimitPerMinute:  20,
		LogLevel:            "info",
		LogFormat:           "json",
		ServerPort:          3000,
		ServerHost:          "0.0.0.0",
		HealthCheckPath:     "/health",
		StoreBackend:        StoreMemory,
		SQLitePath:          "starship.db",
		RedisURL:            "redis://localhost:6379/0",
		// Database defaults
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "starship",
			User:            "starship",
			SSLMode:         "disable",
			MaxConnections:  10,
			IdleConnections: 2,
			MaxLifetime:     time.Hour,
		},
	}

	if err := getEnvRequired(requiredVars...); err != nil {
		return nil, err
	}

	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.JiraClientID = os.Getenv("JIRA_CLIENT_ID")
	cfg.JiraClientSecret = os.Getenv("JIRA_CLIENT_SECRET")
	cfg.JiraRedirectURI = os.Getenv("JIRA_REDIRECT_URI")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.JiraProjectKey = os.Getenv("JIRA_PROJECT_KEY")

	// Optional strings
	setString(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	setString(&cfg.JiraIssueType, "JIRA_ISSUE_TYPE")
	setString(&cfg.OAuthStateSecret, "OAUTH_STATE_SECRET")
	setString(&cfg.AuthResultURL, "AUTH_RESULT_URL")
	setString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&cfg.JiraBaseURL, "JIRA_BASE_URL")
	setString(&cfg.JiraEmail, "JIRA_EMAIL")
	setString(&cfg.JiraAPIToken, "JIRA_API_TOKEN")
	setString(&cfg.MondayAPIToken, "MONDAY_API_TOKEN")
	setString(&cfg.MondayBoardID, "MONDAY_BOARD_ID")
	setString(&cfg.MondayColumn, "MONDAY_PEOPLE_COLUMN")
	setString(&cfg.MondayAPIURL, "MONDAY_API_URL")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.ServerHost, "SERVER_HOST")
	setString(&cfg.HealthCheckPath, "HEALTH_CHECK_PATH")
	setString(&cfg.StoreBackend, "STORE_BACKEND")
	setString(&cfg.SQLitePath, "SQLITE_PATH")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.WorkspacesFile, "WORKSPACES_FILE")

	setList(&cfg.AllowedChannels, "ALLOWED_CHANNELS")
	setList(&cfg.AllowedUsers, "ALLOWED_USERS")
	setList(&cfg.NotificationChannels, "SLACK_NOTIFICATION_CHANNELS")

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"SLACK_REQUEST_TOLERANCE", &cfg.SignatureTolerance},
		{"DEFERRED_TASK_TIMEOUT", &cfg.DeferredTaskTimeout},
		{"HTTP_CLIENT_TIMEOUT", &cfg.HTTPClientTimeout},
		{"RETRY_BACKOFF", &cfg.RetryBackoff},
		{"DB_MAX_LIFETIME", &cfg.Database.MaxLifetime},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.name); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute},
		{"SERVER_PORT", &cfg.ServerPort},
		{"DB_PORT", &cfg.Database.Port},
		{"DB_MAX_CONNECTIONS", &cfg.Database.MaxConnections},
		{"DB_IDLE_CONNECTIONS", &cfg.Database.IdleConnections},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.name); err != nil {
			return nil, err
		}
	}

	if val := os.Getenv("MAX_BODY_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BODY_BYTES: %v", err)
		}
		cfg.MaxBodyBytes = n
	}

	if val := os.Getenv("ENABLE_DEBUG"); val != "" {
		var err error
		cfg.EnableDebug, err = strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_DEBUG: %v", err)
		}
	}

	// Database configuration
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")

	if cfg.OAuthStateSecret == "" {
		cfg.OAuthStateSecret = cfg.JiraClientSecret
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = baseURL(cfg.JiraRedirectURI)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SlackSigningSecret == "" {
		return fmt.Errorf("slack signing secret is required")
	}
	if c.SlackBotToken == "" {
		return fmt.Errorf("slack bot token is required")
	}
	if c.SignatureTolerance <= 0 {
		return fmt.Errorf("signature tolerance must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.DeferredTaskTimeout <= 0 {
		return fmt.Errorf("deferred task timeout must be positive")
	}
	if c.HTTPClientTimeout <= 0 {
		return fmt.Errorf("http client timeout must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	switch c.StoreBackend {
	case StoreMemory, StorePostgres, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.JiraBaseURL != "" && (c.JiraEmail == "" || c.JiraAPIToken == "") {
		return fmt.Errorf("JIRA_EMAIL and JIRA_API_TOKEN are required when JIRA_BASE_URL is set")
	}
	return nil
}

// HasDefaultJira reports whether a basic-auth Jira site is configured
func (c *Config) HasDefaultJira() bool {
	return c.JiraBaseURL != "" && c.JiraEmail != "" && c.JiraAPIToken != ""
}

// HasDefaultMonday reports whether a Monday.com board is configured
func (c *Config) HasDefaultMonday() bool {
	return c.MondayAPIToken != "" && c.MondayBoardID != ""
}

// AuthStartURL is the link sent to users to connect their Jira site
func (c *Config) AuthStartURL(teamID string) string {
	u := strings.TrimRight(c.PublicBaseURL, "/") + "/jira/auth"
	if teamID == "" {
		return u
	}
	return u + "?team_id=" + url.QueryEscape(teamID)
}

// IsUserAllowed checks if a user is allowed to use the bot
func (c *Config) IsUserAllowed(userID string) bool {
	return contains(c.AllowedUsers, userID)
}

// IsChannelAllowed checks if a channel is allowed for bot usage
func (c *Config) IsChannelAllowed(channelID string) bool {
	return contains(c.AllowedChannels, channelID)
}

// contains treats an empty list as "allow all"
func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// getEnvRequired returns one error naming every missing variable
func getEnvRequired(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setList(dst *[]string, key string) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setDuration(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	*dst = n
	return nil
}

func baseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
