// Package sweep runs the optional background cleanup pass. Redis TTLs
// already reclaim token records and throttle state, so correctness never
// depends on the sweeper; its one job is deleting active-token index entries
// whose record expired first and left the index dangling.
package sweep

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scanBatch = 128

// Sweeper periodically scans for orphaned token index keys.
type Sweeper struct {
	redis    *redis.Client
	prefix   string
	interval time.Duration
	logger   *zerolog.Logger
}

// New creates a Sweeper for the token store living under prefix.
func New(redisClient *redis.Client, prefix string, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		redis:    redisClient,
		prefix:   prefix,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Sweep
// failures are logged and retried next tick; they never stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				if s.logger != nil {
					s.logger.Warn().Err(err).Msg("token index sweep failed")
				}
				continue
			}
			if removed > 0 && s.logger != nil {
				s.logger.Debug().Int("removed", removed).Msg("swept orphaned token indexes")
			}
		}
	}
}

// SweepOnce walks all index keys and deletes those whose token record no
// longer exists. Returns the number of orphans removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	pattern := s.prefix + ":i:*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, err
		}

		for _, idxKey := range keys {
			id, err := s.redis.Get(ctx, idxKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // expired between scan and get
				}
				return removed, err
			}

			recordKey := s.recordKeyFor(idxKey, id)
			if recordKey == "" {
				continue
			}

			exists, err := s.redis.Exists(ctx, recordKey).Result()
			if err != nil {
				return removed, err
			}
			if exists == 0 {
				if err := s.redis.Del(ctx, idxKey).Err(); err != nil {
					return removed, err
				}
				removed++
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// recordKeyFor rebuilds "<prefix>:t:<purpose>:<id>" from an index key of the
// form "<prefix>:i:<purpose>:<identity>".
func (s *Sweeper) recordKeyFor(idxKey, id string) string {
	rest := strings.TrimPrefix(idxKey, s.prefix+":i:")
	if rest == idxKey {
		return ""
	}
	purpose, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return s.prefix + ":t:" + purpose + ":" + id
}
