package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/ghabxph/starship/internal/config"
)

func TestAuthorizeUser_AllowLists(t *testing.T) {
	cfg := &config.Config{
		AllowedUsers:       []string{"U1"},
		AllowedChannels:    []string{"C1"},
		RateLimitPerMinute: 10,
	}
	s := NewService(cfg, zaptest.NewLogger(t))

	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1", ChannelID: "C1"}))
	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1"}), "home tab events carry no channel")
	assert.ErrorIs(t, s.AuthorizeUser(AuthContext{UserID: "U2", ChannelID: "C1"}), ErrUserNotAllowed)
	assert.ErrorIs(t, s.AuthorizeUser(AuthContext{UserID: "U1", ChannelID: "C2"}), ErrChannelNotAllowed)

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats["allowed"])
	assert.Equal(t, int64(2), stats["denied"])
}

func TestAuthorizeUser_RateLimit(t *testing.T) {
	s := NewService(&config.Config{RateLimitPerMinute: 3}, zaptest.NewLogger(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1"}))
	}
	assert.ErrorIs(t, s.AuthorizeUser(AuthContext{UserID: "U1"}), ErrRateLimited)
	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U2"}), "limits are per user")

	now = now.Add(20 * time.Second)
	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1"}), "one token refills every 20s")
}

func TestCleanupExpiredEntries(t *testing.T) {
	s := NewService(&config.Config{RateLimitPerMinute: 3}, zaptest.NewLogger(t))
	now := time.Now()
	s.now = func() time.Time { return now }

	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1"}))
	now = now.Add(time.Hour)
	assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U2"}))

	assert.Equal(t, 1, s.CleanupExpiredEntries(10*time.Minute))
	assert.Equal(t, 1, s.GetStats()["tracked_users"])
}

func TestAuthorizeUser_Unlimited(t *testing.T) {
	s := NewService(&config.Config{}, zaptest.NewLogger(t))
	for i := 0; i < 100; i++ {
		assert.NoError(t, s.AuthorizeUser(AuthContext{UserID: "U1"}))
	}
}
