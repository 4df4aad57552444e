// Package cache keeps public policy lookups in redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"spacebook/internal/models"
)

const keyPrefix = "spacebook:policy:"

// PolicySource is the authoritative policy lookup.
type PolicySource interface {
	Policy(st models.SpaceType) (models.CancellationPolicy, error)
}

// PolicyCache is a read-through cache in front of a PolicySource. Redis
// failures fall back to the source; a nil client disables caching.
type PolicyCache struct {
	redis  *redis.Client
	ttl    time.Duration
	source PolicySource
	logger zerolog.Logger
}

func NewPolicyCache(rdb *redis.Client, ttl time.Duration, source PolicySource, logger *zerolog.Logger) *PolicyCache {
	return &PolicyCache{
		redis:  rdb,
		ttl:    ttl,
		source: source,
		logger: logger.With().Str("component", "policy_cache").Logger(),
	}
}

func key(st models.SpaceType) string {
	return keyPrefix + string(st)
}

func (c *PolicyCache) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

// Policy returns the cancellation policy for a space type.
func (c *PolicyCache) Policy(ctx context.Context, st models.SpaceType) (models.CancellationPolicy, error) {
	if c.enabled() {
		if val, err := c.redis.Get(ctx, key(st)).Bytes(); err == nil {
			var p models.CancellationPolicy
			if json.Unmarshal(val, &p) == nil {
				return p, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn().Err(err).Str("space_type", string(st)).Msg("policy cache read failed")
		}
	}

	p, err := c.source.Policy(st)
	if err != nil {
		return models.CancellationPolicy{}, err
	}
	if c.enabled() {
		if data, err := json.Marshal(p); err == nil {
			if err := c.redis.Set(ctx, key(st), data, c.ttl).Err(); err != nil {
				c.logger.Warn().Err(err).Str("space_type", string(st)).Msg("policy cache write failed")
			}
		}
	}
	return p, nil
}

// Invalidate drops every cached policy. Called after a policy reload.
func (c *PolicyCache) Invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	keys := make([]string, 0, len(models.SpaceTypes()))
	for _, st := range models.SpaceTypes() {
		keys = append(keys, key(st))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("policy cache invalidation failed")
	}
}
