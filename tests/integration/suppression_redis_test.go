package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hush/internal/config"
	"hush/internal/decision"
	"hush/internal/suppression"
)

func TestRedisStore_SuppressesDuplicates(t *testing.T) {
	infra := SetupTestInfra(t, Needs{Redis: true})
	ctx := context.Background()

	store, err := suppression.NewStore(createTestSuppressionConfig(), infra.RedisClient, config.CircuitBreakerConfig{})
	require.NoError(t, err)
	suppressor := suppression.NewSuppressor(store, createTestSuppressionConfig(), createTestLogger())

	fc := decision.FilterContext{TeamID: "platform", ChannelID: "C1"}
	assert.Nil(t, suppressor.Check(ctx, createTestEvent("e1", 7, "ana"), fc))

	d := suppressor.Check(ctx, createTestEvent("e1", 7, "ana"), fc)
	require.NotNil(t, d)
	assert.False(t, d.ShouldProcess)
	assert.Equal(t, decision.StageSuppression, d.Stage)
	assert.Equal(t, []string{suppression.RuleDuplicate}, d.AppliedRules)
}

func TestRedisStore_FrequencyLimit(t *testing.T) {
	infra := SetupTestInfra(t, Needs{Redis: true})
	ctx := context.Background()

	suppressor := suppression.NewSuppressor(suppression.NewRedisStore(infra.RedisClient),
		createTestSuppressionConfig(), createTestLogger())
	fc := decision.FilterContext{ChannelID: "C1"}

	ids := []string{"e1", "e2", "e3"}
	for _, id := range ids {
		assert.Nil(t, suppressor.Check(ctx, createTestEvent(id, 11, "ana"), fc), "event %s", id)
		time.Sleep(timestampDelay)
	}

	d := suppressor.Check(ctx, createTestEvent("e4", 11, "ana"), fc)
	require.NotNil(t, d)
	assert.Equal(t, []string{suppression.RuleFrequency}, d.AppliedRules)

	// a different subject has its own bucket
	assert.Nil(t, suppressor.Check(ctx, createTestEvent("e5", 12, "ana"), fc))
}

func TestRedisStore_WindowExpiry(t *testing.T) {
	infra := SetupTestInfra(t, Needs{Redis: true})
	ctx := context.Background()

	now := time.Now()
	cfg := createTestSuppressionConfig()
	cfg.FrequencyLimit = 1
	suppressor := suppression.NewSuppressor(suppression.NewRedisStore(infra.RedisClient), cfg, createTestLogger(),
		suppression.WithClock(func() time.Time { return now }))
	fc := decision.FilterContext{ChannelID: "C1"}

	assert.Nil(t, suppressor.Check(ctx, createTestEvent("e1", 3, "ana"), fc))
	require.NotNil(t, suppressor.Check(ctx, createTestEvent("e2", 3, "ana"), fc))

	now = now.Add(2 * cfg.FrequencyWindow)
	assert.Nil(t, suppressor.Check(ctx, createTestEvent("e3", 3, "ana"), fc))
}
