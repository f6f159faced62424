package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/metricsource"
	"kinesis-shard-autoscaler/internal/report"
	"kinesis-shard-autoscaler/internal/shard"
	"kinesis-shard-autoscaler/internal/streamcontrol"
)

type fakeControl struct {
	status    streamcontrol.StreamStatus
	shards    []shard.Shard
	splits    int
	merges    int
	splitErr  error
	mergeErr  error
}

func (f *fakeControl) Describe(ctx context.Context, stream string) (streamcontrol.Description, error) {
	return streamcontrol.Description{Status: f.status, OpenShardCount: len(f.shards)}, nil
}

func (f *fakeControl) ListOpenShards(ctx context.Context, stream string) ([]shard.Shard, error) {
	return f.shards, nil
}

func (f *fakeControl) Split(ctx context.Context, stream, shardID string, newStartingHash *big.Int, waitForActive bool) error {
	if f.splitErr != nil {
		return f.splitErr
	}
	f.splits++
	for i, s := range f.shards {
		if s.ID == shardID {
			left := shard.Shard{ID: s.ID + "-L", Start: s.Start, End: new(big.Int).Sub(newStartingHash, big.NewInt(1)), ParentID: s.ID}
			right := shard.Shard{ID: s.ID + "-R", Start: newStartingHash, End: s.End, ParentID: s.ID}
			f.shards = append(f.shards[:i], append([]shard.Shard{left, right}, f.shards[i+1:]...)...)
			return nil
		}
	}
	return nil
}

func (f *fakeControl) Merge(ctx context.Context, stream, lowerID, higherID string, waitForActive bool) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merges++
	var lowerIdx, higherIdx = -1, -1
	for i, s := range f.shards {
		if s.ID == lowerID {
			lowerIdx = i
		}
		if s.ID == higherID {
			higherIdx = i
		}
	}
	if lowerIdx < 0 || higherIdx < 0 {
		return nil
	}
	lower, higher := f.shards[lowerIdx], f.shards[higherIdx]
	merged := shard.Shard{ID: lower.ID + "+" + higher.ID, Start: lower.Start, End: higher.End}
	f.shards = append(f.shards[:lowerIdx], append([]shard.Shard{merged}, f.shards[higherIdx+1:]...)...)
	return nil
}

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) Notify(ctx context.Context, target, subject, body string) error {
	f.calls++
	return nil
}

func equalShards(n int, max int64) []shard.Shard {
	space := big.NewInt(max)
	width := new(big.Int).Add(space, big.NewInt(1))
	shards := make([]shard.Shard, n)
	for i := 0; i < n; i++ {
		start := new(big.Int).Div(new(big.Int).Mul(width, big.NewInt(int64(i))), big.NewInt(int64(n)))
		end := new(big.Int).Sub(new(big.Int).Div(new(big.Int).Mul(width, big.NewInt(int64(i+1))), big.NewInt(int64(n))), big.NewInt(1))
		shards[i] = shard.Shard{ID: "s" + big.NewInt(int64(i)).String(), Start: start, End: end}
	}
	return shards
}

func newTestEngine(policy config.StreamPolicy, ctrl *fakeControl, src *fakeSourceImpl, notifier *fakeNotifier) *Engine {
	e := New(policy, src, ctrl, notifier, logrus.New())
	e.Log.SetOutput(nopWriter{})
	return e
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestExecuteAlreadyAtMinimum(t *testing.T) {
	policy := testPolicy()
	policy.MinShards = 1
	ctrl := &fakeControl{status: streamcontrol.StatusActive, shards: equalShards(1, 99)}
	src := &fakeSourceImpl{perShardMax: map[metricsource.Metric]float64{metricsource.MetricRecords: 1000, metricsource.MetricBytes: 1 << 20}}
	notifier := &fakeNotifier{}
	e := newTestEngine(policy, ctrl, src, notifier)

	err := e.execute(context.Background(), DecisionDown, 1, time.Now())
	require.NoError(t, err)
	require.NotNil(t, e.LatestReport())
	assert.Equal(t, report.StatusAlreadyAtMinimum, e.LatestReport().Status)
	assert.Equal(t, 0, notifier.calls)
}

func TestExecuteNoActionWhenTargetUnchanged(t *testing.T) {
	policy := testPolicy()
	policy.Up.Count = nil
	zero := 0
	policy.Up.Count = &zero
	ctrl := &fakeControl{status: streamcontrol.StatusActive, shards: equalShards(4, 99)}
	src := &fakeSourceImpl{perShardMax: map[metricsource.Metric]float64{metricsource.MetricRecords: 1000, metricsource.MetricBytes: 1 << 20}}
	notifier := &fakeNotifier{}
	e := newTestEngine(policy, ctrl, src, notifier)

	err := e.execute(context.Background(), DecisionUp, 4, time.Now())
	require.NoError(t, err)
	assert.Equal(t, report.StatusNoActionRequired, e.LatestReport().Status)
}

func TestExecuteScalesUpAndNotifies(t *testing.T) {
	policy := testPolicy()
	three := 3
	policy.Up.Count = &three
	notifyARN := "arn:aws:sns:us-east-1:123:topic"
	policy.Up.NotifyTargetARN = notifyARN

	ctrl := &fakeControl{status: streamcontrol.StatusActive, shards: equalShards(2, (1<<32)-1)}
	src := &fakeSourceImpl{perShardMax: map[metricsource.Metric]float64{metricsource.MetricRecords: 1000, metricsource.MetricBytes: 1 << 20}}
	notifier := &fakeNotifier{}
	e := newTestEngine(policy, ctrl, src, notifier)

	err := e.execute(context.Background(), DecisionUp, 2, time.Now())
	require.NoError(t, err)

	rep := e.LatestReport()
	require.NotNil(t, rep)
	assert.Equal(t, report.StatusOk, rep.Status)
	assert.Equal(t, 5, rep.EndShardCount)
	assert.NotEmpty(t, rep.OperationsExecuted)
	assert.Equal(t, 1, notifier.calls)
	assert.NotNil(t, e.lastScaleUp)
}

func TestCoolingOffDefersRepeatedScaleUp(t *testing.T) {
	policy := testPolicy()
	ctrl := &fakeControl{}
	src := &fakeSourceImpl{}
	e := newTestEngine(policy, ctrl, src, &fakeNotifier{})

	now := time.Now()
	recent := now.Add(-1 * time.Minute)
	e.lastScaleUp = &recent

	assert.True(t, e.coolingOff(DecisionUp, now))
	assert.False(t, e.coolingOff(DecisionDown, now))
}
