package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacebook/internal/models"
)

type countingSource struct {
	calls  int
	policy models.CancellationPolicy
}

func (s *countingSource) Policy(st models.SpaceType) (models.CancellationPolicy, error) {
	s.calls++
	p := s.policy
	p.SpaceType = st
	return p, nil
}

func newCache(t *testing.T, src PolicySource) (*PolicyCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := zerolog.Nop()
	return NewPolicyCache(rdb, time.Minute, src, &logger), mr
}

func TestPolicyCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{policy: models.CancellationPolicy{Tiers: []models.Tier{{DaysBeforeBooking: 30, ChargePercentage: 0}, {DaysBeforeBooking: 0, ChargePercentage: 100}}}}
	c, mr := newCache(t, src)

	p, err := c.Policy(ctx, models.SpaceMeetingRoom)
	require.NoError(t, err)
	assert.Len(t, p.Tiers, 2)
	assert.True(t, mr.Exists(key(models.SpaceMeetingRoom)))

	p, err = c.Policy(ctx, models.SpaceMeetingRoom)
	require.NoError(t, err)
	assert.Equal(t, models.SpaceMeetingRoom, p.SpaceType)
	assert.Equal(t, 1, src.calls)

	mr.FastForward(2 * time.Minute)
	_, err = c.Policy(ctx, models.SpaceMeetingRoom)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestPolicyCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	c, mr := newCache(t, src)

	_, err := c.Policy(ctx, models.SpaceOpenSpace)
	require.NoError(t, err)
	c.Invalidate(ctx)
	assert.False(t, mr.Exists(key(models.SpaceOpenSpace)))

	_, err = c.Policy(ctx, models.SpaceOpenSpace)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestPolicyCache_RedisDown(t *testing.T) {
	src := &countingSource{}
	c, mr := newCache(t, src)
	mr.Close()

	p, err := c.Policy(context.Background(), models.SpaceEventSpace)
	require.NoError(t, err)
	assert.Equal(t, models.SpaceEventSpace, p.SpaceType)
}

func TestPolicyCache_Disabled(t *testing.T) {
	src := &countingSource{}
	logger := zerolog.Nop()
	c := NewPolicyCache(nil, time.Minute, src, &logger)

	_, err := c.Policy(context.Background(), models.SpaceOpenSpace)
	require.NoError(t, err)
	_, err = c.Policy(context.Background(), models.SpaceOpenSpace)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	c.Invalidate(context.Background())
}
