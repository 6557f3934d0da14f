package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisWorkspacePrefix = "starship:workspace:"
	redisOnboardPrefix   = "starship:onboarded:"
)

// RedisStore stores workspaces as JSON values and onboarding flags as keys
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// OpenRedis connects to the Redis server at redisURL and pings it
func OpenRedis(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return NewRedisStore(rdb, logger), nil
}

func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		logger: logger,
	}
}

func (r *RedisStore) GetWorkspace(ctx context.Context, teamID string) (*Workspace, error) {
	raw, err := r.rdb.Get(ctx, redisWorkspacePrefix+teamID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	var ws Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("failed to decode workspace: %w", err)
	}
	return &ws, nil
}

func (r *RedisStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	if ws == nil || ws.TeamID == "" {
		return fmt.Errorf("workspace team id is required")
	}
	if ws.CreatedAt.IsZero() {
		if existing, err := r.GetWorkspace(ctx, ws.TeamID); err == nil {
			ws.CreatedAt = existing.CreatedAt
		}
	}
	touch(ws, time.Now().UTC())

	raw, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}
	if err := r.rdb.Set(ctx, redisWorkspacePrefix+ws.TeamID, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

func (r *RedisStore) DeleteWorkspace(ctx context.Context, teamID string) error {
	if err := r.rdb.Del(ctx, redisWorkspacePrefix+teamID).Err(); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

func (r *RedisStore) MarkOnboarded(ctx context.Context, userID string) (bool, error) {
	first, err := r.rdb.SetNX(ctx, redisOnboardPrefix+userID, time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark user onboarded: %w", err)
	}
	return first, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// Health pings the server
func (r *RedisStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}
