package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/metricsource"
	"kinesis-shard-autoscaler/internal/shard"
)

type fakeSourceImpl struct {
	perShardMax map[metricsource.Metric]float64
	samples     map[metricsource.Metric]map[time.Time]float64
}

func (f *fakeSourceImpl) Samples(ctx context.Context, stream, op string, metric metricsource.Metric, start, end time.Time) (map[time.Time]float64, error) {
	return f.samples[metric], nil
}

func (f *fakeSourceImpl) PerShardMax(ctx context.Context, stream, op string, metric metricsource.Metric, s *shard.Shard) (float64, error) {
	return f.perShardMax[metric], nil
}

func testPolicy() config.StreamPolicy {
	return config.StreamPolicy{
		StreamName: "orders",
		Operations: []string{"PUT", "GET"},
		MinShards:  1,
		MaxShards:  20,
		Up:         config.ThresholdSpec{ThresholdPct: 75, AfterMins: 3, CoolOffMins: 10},
		Down:       config.ThresholdSpec{ThresholdPct: 25, AfterMins: 5, CoolOffMins: 20},
	}
}

func TestClassify(t *testing.T) {
	policy := testPolicy()
	assert.Equal(t, classHigh, classify(0.9, policy.Up, policy.Down))
	assert.Equal(t, classLow, classify(0.1, policy.Up, policy.Down))
	assert.Equal(t, classNeutral, classify(0.5, policy.Up, policy.Down))
}

func TestCombineVotes(t *testing.T) {
	assert.Equal(t, DecisionUp, combine([]Decision{DecisionUp, DecisionDown}))
	assert.Equal(t, DecisionDown, combine([]Decision{DecisionDown, DecisionDown}))
	assert.Equal(t, DecisionNone, combine([]Decision{DecisionDown, DecisionNone}))
	assert.Equal(t, DecisionNone, combine([]Decision{DecisionNone, DecisionNone}))
	assert.Equal(t, DecisionUp, combine([]Decision{DecisionUp}))
	assert.Equal(t, DecisionDown, combine([]Decision{DecisionDown}))
}

func TestVoteForOperationMissingDataVotesDownOrNone(t *testing.T) {
	policy := testPolicy()
	src := &fakeSourceImpl{
		perShardMax: map[metricsource.Metric]float64{metricsource.MetricRecords: 1000, metricsource.MetricBytes: 1 << 20},
		samples:     map[metricsource.Metric]map[time.Time]float64{},
	}

	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	windowStart := now.Add(-5 * time.Minute)

	decision, err := voteForOperation(context.Background(), src, "orders", "PUT", 2, windowStart, now, policy)
	require.NoError(t, err)
	assert.NotEqual(t, DecisionUp, decision)
}

func TestVoteForOperationSustainedHighVotesUp(t *testing.T) {
	policy := testPolicy()
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	windowStart := now.Add(-3 * time.Minute)

	samples := map[time.Time]float64{}
	for m := windowStart.Truncate(time.Minute); !m.After(now); m = m.Add(time.Minute) {
		samples[m] = 1900 // 1900/2000 = 0.95 > 0.75 threshold
	}

	src := &fakeSourceImpl{
		perShardMax: map[metricsource.Metric]float64{metricsource.MetricRecords: 1000, metricsource.MetricBytes: 1 << 20},
		samples: map[metricsource.Metric]map[time.Time]float64{
			metricsource.MetricRecords: samples,
		},
	}

	decision, err := voteForOperation(context.Background(), src, "orders", "PUT", 2, windowStart, now, policy)
	require.NoError(t, err)
	assert.Equal(t, DecisionUp, decision)
}
