package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptKind separates password failures from password-answer failures.
type AttemptKind string

const (
	KindPassword       AttemptKind = "pw"
	KindPasswordAnswer AttemptKind = "pa"
)

// AttemptConfig holds configuration for the failed-attempt limiter.
type AttemptConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

// ErrAttemptsUnavailable indicates the attempt backend is unreachable.
var ErrAttemptsUnavailable = errors.New("attempt limiter backend unavailable")

// Attempt is the state of a failure window after recording a failure.
type Attempt struct {
	Count       int
	WindowStart time.Time
	// Reached is true once Count hits the configured threshold.
	Reached bool
}

// AttemptLimiter counts failed credential checks per user inside a rolling
// window. The window starts at the first failure and expires with it.
type AttemptLimiter struct {
	redis  redis.UniversalClient
	config AttemptConfig
	now    func() time.Time
}

// NewAttemptLimiter creates a new attempt limiter. A nil client disables it.
func NewAttemptLimiter(redisClient redis.UniversalClient, cfg AttemptConfig) *AttemptLimiter {
	if redisClient == nil {
		cfg.Enabled = false
	}
	return &AttemptLimiter{redis: redisClient, config: cfg, now: time.Now}
}

func (l *AttemptLimiter) key(applicationName, username string, kind AttemptKind) string {
	return "gma:" + string(kind) + ":" + applicationName + ":" + username
}

func (l *AttemptLimiter) active(username string) bool {
	return l != nil && l.config.Enabled && l.config.Threshold > 0 && username != ""
}

// RecordFailure adds one failure to the user's window and reports the
// window state. Disabled limiters report a zero Attempt.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, applicationName, username string, kind AttemptKind) (Attempt, error) {
	if !l.active(username) {
		return Attempt{}, nil
	}

	key := l.key(applicationName, username, kind)
	now := l.now()

	var (
		countCmd *redis.IntCmd
		startCmd *redis.StringCmd
	)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSetNX(ctx, key, "start", strconv.FormatInt(now.UnixNano(), 10))
		startCmd = pipe.HGet(ctx, key, "start")
		return nil
	})
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}

	count := countCmd.Val()
	if count == 1 && l.config.Window > 0 {
		if err := l.redis.PExpire(ctx, key, l.config.Window).Err(); err != nil {
			return Attempt{}, fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
		}
	}

	start := now
	if n, err := strconv.ParseInt(startCmd.Val(), 10, 64); err == nil {
		start = time.Unix(0, n).UTC()
	}

	return Attempt{
		Count:       int(count),
		WindowStart: start,
		Reached:     count >= int64(l.config.Threshold),
	}, nil
}

// Reset clears the failure windows of the given kinds for a user. With no
// kinds, every window is cleared.
func (l *AttemptLimiter) Reset(ctx context.Context, applicationName, username string, kinds ...AttemptKind) error {
	if !l.active(username) {
		return nil
	}
	if len(kinds) == 0 {
		kinds = []AttemptKind{KindPassword, KindPasswordAnswer}
	}

	keys := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		keys = append(keys, l.key(applicationName, username, kind))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}
