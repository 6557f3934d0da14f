package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ghabxph/starship/internal/config"
)

var (
	ErrUserNotAllowed    = errors.New("user is not allowed to create tickets")
	ErrChannelNotAllowed = errors.New("bot is not enabled in this channel")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// AuthContext represents the context of an authorization request
type AuthContext struct {
	UserID    string
	ChannelID string
	TeamID    string
	Command   string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Service decides whether a request may start ticket work
type Service struct {
	config   *config.Config
	logger   *zap.Logger
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
	mu       sync.Mutex

	allowed int64
	denied  int64
}

// NewService creates a new authorization service
func NewService(cfg *config.Config, logger *zap.Logger) *Service {
	perMinute := cfg.RateLimitPerMinute
	limit := rate.Inf
	burst := 0
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = perMinute
	}
	return &Service{
		config:   cfg,
		logger:   logger,
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// AuthorizeUser checks allow-lists and the per-user rate limit
func (s *Service) AuthorizeUser(ctx AuthContext) error {
	if !s.config.IsUserAllowed(ctx.UserID) {
		s.logger.Warn("Blocked unauthorized user", zap.String("user_id", ctx.UserID))
		s.count(false)
		return ErrUserNotAllowed
	}

	if ctx.ChannelID != "" && !s.config.IsChannelAllowed(ctx.ChannelID) {
		s.logger.Warn("Blocked unauthorized channel",
			zap.String("channel_id", ctx.ChannelID),
			zap.String("user_id", ctx.UserID))
		s.count(false)
		return ErrChannelNotAllowed
	}

	if !s.allow(ctx.UserID) {
		s.logger.Warn("Rate limited user",
			zap.String("user_id", ctx.UserID),
			zap.String("command", ctx.Command))
		s.count(false)
		return fmt.Errorf("%w, try again in a minute", ErrRateLimited)
	}

	s.count(true)
	s.logger.Debug("Authorization successful",
		zap.String("user_id", ctx.UserID),
		zap.String("channel_id", ctx.ChannelID))
	return nil
}

func (s *Service) allow(userID string) bool {
	if s.limit == rate.Inf {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.limiters[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Service) count(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.allowed++
	} else {
		s.denied++
	}
}

// CleanupExpiredEntries drops limiters idle for longer than idle
func (s *Service) CleanupExpiredEntries(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	removed := 0
	for userID, entry := range s.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(s.limiters, userID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Cleaned up rate limiters", zap.Int("removed", removed))
	}
	return removed
}

// GetStats returns authorization statistics
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"tracked_users":  len(s.limiters),
		"allowed":        s.allowed,
		"denied":         s.denied,
		"rate_per_min":   s.config.RateLimitPerMinute,
		"user_allowlist": len(s.config.AllowedUsers),
	}
}
