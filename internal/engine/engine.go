// Package engine implements the per-stream Decision Engine of spec
// section 4.F: a monitor loop that windows utilization samples,
// votes per operation, combines votes via the decision matrix, applies
// cool-off, and invokes the resize planner.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/bignum"
	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/errs"
	"kinesis-shard-autoscaler/internal/metricsource"
	"kinesis-shard-autoscaler/internal/notify"
	"kinesis-shard-autoscaler/internal/planner"
	"kinesis-shard-autoscaler/internal/report"
	"kinesis-shard-autoscaler/internal/scalingmath"
	"kinesis-shard-autoscaler/internal/shard"
	"kinesis-shard-autoscaler/internal/streamcontrol"
)

// Engine is one stream's monitor loop. State (lastScaleUp/Down,
// capacity snapshot) is owned entirely by this value, never shared
// across engines, per spec section 9's "Global state" note.
type Engine struct {
	Policy   config.StreamPolicy
	Metrics  metricsource.Source
	Control  streamcontrol.StreamControl
	Notifier notify.Notifier
	Log      *logrus.Logger

	// Sleep is overridable in tests; defaults to time.Sleep.
	Sleep func(time.Duration)
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time

	mu            sync.Mutex
	lastScaleUp   *time.Time
	lastScaleDown *time.Time
	capacity      map[metricsource.Metric]float64
	lastRefresh   time.Time
	fatalErr      error
	latestReport  *report.ScalingReport

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an Engine for policy, ready to Run.
func New(policy config.StreamPolicy, metrics metricsource.Source, control streamcontrol.StreamControl, notifier notify.Notifier, log *logrus.Logger) *Engine {
	return &Engine{
		Policy:   policy,
		Metrics:  metrics,
		Control:  control,
		Notifier: notifier,
		Log:      log,
		Sleep:    time.Sleep,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Stop signals the engine to exit after its current iteration, without
// starting a new plan, per spec section 5's cancellation semantics.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// Err returns the fatal setup error that ended the loop, if any (spec
// section 4.F's getException()).
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// LatestReport returns the most recently finalized scaling report, or
// nil if none has run yet.
func (e *Engine) LatestReport() *report.ScalingReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latestReport
}

// Run loads initial capacity, then loops iterations until Stop is
// called. A fatal setup failure captures the error and returns,
// leaving Err() non-nil; per-iteration errors are logged and the loop
// continues.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	if err := e.refreshCapacity(ctx); err != nil {
		e.mu.Lock()
		e.fatalErr = fmt.Errorf("%w: initial capacity load for stream %s: %v", errs.ErrFatal, e.Policy.StreamName, err)
		e.mu.Unlock()
		e.Log.WithField("stream", e.Policy.StreamName).Errorf("%+v", e.fatalErr)
		return
	}

	interval := time.Duration(e.Policy.CheckIntervalSec) * time.Second
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if err := e.iterate(ctx); err != nil {
			e.Log.WithFields(logrus.Fields{
				"stream": e.Policy.StreamName,
				"error":  err,
			}).Error("scaling iteration failed")
		}

		if e.sleepInterruptible(interval) {
			return
		}
	}
}

func (e *Engine) sleepInterruptible(d time.Duration) (stopped bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.stopCh:
		return true
	case <-t.C:
		return false
	}
}

// iterate runs one monitor-loop pass, spec 4.F steps 1-8.
func (e *Engine) iterate(ctx context.Context) error {
	now := e.Now()
	windowStart := now.Add(-time.Duration(e.Policy.WindowMinutes()) * time.Minute)

	desc, err := e.Control.Describe(ctx, e.Policy.StreamName)
	if err != nil {
		return fmt.Errorf("describing stream: %w", err)
	}

	votes := make([]Decision, 0, len(e.Policy.Operations))
	for _, op := range e.Policy.Operations {
		v, err := voteForOperation(ctx, e.Metrics, e.Policy.StreamName, op, desc.OpenShardCount, windowStart, now, e.Policy)
		if err != nil {
			return fmt.Errorf("voting for op %s: %w", op, err)
		}
		votes = append(votes, v)
	}
	decision := combine(votes)

	e.Log.WithFields(logrus.Fields{
		"stream":   e.Policy.StreamName,
		"decision": decision,
		"votes":    votes,
	}).Info("scaling decision computed")

	if err := e.maybeRefreshCapacity(ctx, now); err != nil {
		e.Log.WithField("stream", e.Policy.StreamName).Warnf("capacity refresh failed: %v", err)
	}

	if decision == DecisionNone {
		return nil
	}

	if deferred := e.coolingOff(decision, now); deferred {
		e.Log.WithFields(logrus.Fields{
			"stream":   e.Policy.StreamName,
			"decision": decision,
		}).Info("scaling deferred by cool-off")
		return nil
	}

	return e.execute(ctx, decision, desc.OpenShardCount, now)
}

func (e *Engine) coolingOff(decision Decision, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch decision {
	case DecisionUp:
		if e.lastScaleUp != nil && now.Sub(*e.lastScaleUp) < time.Duration(e.Policy.Up.CoolOffMins)*time.Minute {
			return true
		}
	case DecisionDown:
		if e.lastScaleDown != nil && now.Sub(*e.lastScaleDown) < time.Duration(e.Policy.Down.CoolOffMins)*time.Minute {
			return true
		}
	}
	return false
}

// execute carries out spec 4.F steps 6-7: compute the target count,
// short-circuit NoActionRequired/AlreadyAtMinimum, else plan and apply.
func (e *Engine) execute(ctx context.Context, decision Decision, currentCount int, now time.Time) error {
	threshold := e.Policy.Up
	dir := scalingmath.Up
	notifySubject := notify.SubjectScaleUp
	if decision == DecisionDown {
		threshold = e.Policy.Down
		dir = scalingmath.Down
		notifySubject = notify.SubjectScaleDown
	}

	if decision == DecisionDown && currentCount == 1 {
		e.finalize(report.ScalingReport{
			Stream:          e.Policy.StreamName,
			Direction:       report.Direction(decision),
			StartShardCount: currentCount,
			EndShardCount:   currentCount,
			StartedAt:       now,
			FinishedAt:      e.Now(),
			Status:          report.StatusAlreadyAtMinimum,
		})
		return nil
	}

	target := scalingmath.NewShardCount(currentCount, scalingmath.Request{
		Count: threshold.Count,
		Pct:   threshold.Pct,
		Min:   &e.Policy.MinShards,
		Max:   &e.Policy.MaxShards,
	}, dir)

	if target == currentCount || target < 1 {
		e.finalize(report.ScalingReport{
			Stream:          e.Policy.StreamName,
			Direction:       report.Direction(decision),
			StartShardCount: currentCount,
			EndShardCount:   currentCount,
			StartedAt:       now,
			FinishedAt:      e.Now(),
			Status:          report.StatusNoActionRequired,
		})
		return nil
	}

	topo, err := e.liveTopology(ctx)
	if err != nil {
		e.finalize(e.failureReport(decision, currentCount, now, err))
		return err
	}

	ops, err := planner.Plan(topo, target, e.Policy.MinShards, e.Policy.MaxShards)
	if err != nil {
		e.finalize(e.failureReport(decision, currentCount, now, err))
		return err
	}

	if err := planner.Apply(ctx, e.Control, e.Policy.StreamName, ops, true); err != nil {
		e.finalize(e.failureReport(decision, currentCount, now, err))
		return err
	}

	e.mu.Lock()
	ts := now
	if decision == DecisionUp {
		e.lastScaleUp = &ts
	} else {
		e.lastScaleDown = &ts
	}
	e.mu.Unlock()

	if err := e.refreshCapacity(ctx); err != nil {
		e.Log.WithField("stream", e.Policy.StreamName).Warnf("post-scale capacity refresh failed: %v", err)
	}

	opNames := make([]string, len(ops))
	for i, op := range ops {
		opNames[i] = op.String()
	}

	rep := report.ScalingReport{
		Stream:             e.Policy.StreamName,
		Direction:          report.Direction(decision),
		StartShardCount:    currentCount,
		EndShardCount:      target,
		OperationsExecuted: opNames,
		StartedAt:          now,
		FinishedAt:         e.Now(),
		Status:             report.StatusOk,
	}
	e.finalize(rep)

	if threshold.NotifyTargetARN != "" {
		body, _ := json.Marshal(rep)
		if err := e.Notifier.Notify(ctx, threshold.NotifyTargetARN, notifySubject, string(body)); err != nil {
			e.Log.WithField("stream", e.Policy.StreamName).Warnf("notification failed: %v", err)
		}
	}

	return nil
}

func (e *Engine) failureReport(decision Decision, currentCount int, startedAt time.Time, err error) report.ScalingReport {
	return report.ScalingReport{
		Stream:          e.Policy.StreamName,
		Direction:       report.Direction(decision),
		StartShardCount: currentCount,
		EndShardCount:   currentCount,
		StartedAt:       startedAt,
		FinishedAt:      e.Now(),
		Status:          report.StatusFailed,
		Error:           err.Error(),
	}
}

func (e *Engine) finalize(rep report.ScalingReport) {
	e.mu.Lock()
	e.latestReport = &rep
	e.mu.Unlock()
}

// liveTopology lists open shards and infers the stream's hash space
// from their union, since the control plane reports ranges but no
// separate space-bound call.
func (e *Engine) liveTopology(ctx context.Context) (shard.Topology, error) {
	shards, err := e.Control.ListOpenShards(ctx, e.Policy.StreamName)
	if err != nil {
		return shard.Topology{}, fmt.Errorf("listing open shards: %w", err)
	}
	if len(shards) == 0 {
		return shard.Topology{}, fmt.Errorf("%w: stream %s reports no open shards", errs.ErrInconsistent, e.Policy.StreamName)
	}

	max := shards[0].End
	for _, s := range shards[1:] {
		if s.End.Cmp(max) > 0 {
			max = s.End
		}
	}
	space := bignum.NewSpace(max)
	return shard.BuildOpenTopology(space, shards), nil
}

func (e *Engine) maybeRefreshCapacity(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	due := now.Sub(e.lastRefresh) >= time.Duration(e.Policy.RefreshCapacityAfterMins)*time.Minute
	e.mu.Unlock()
	if !due {
		return nil
	}
	return e.refreshCapacity(ctx)
}

func (e *Engine) refreshCapacity(ctx context.Context) error {
	snapshot := make(map[metricsource.Metric]float64, 2)
	for _, metric := range []metricsource.Metric{metricsource.MetricRecords, metricsource.MetricBytes} {
		for _, op := range e.Policy.Operations {
			v, err := e.Metrics.PerShardMax(ctx, e.Policy.StreamName, op, metric, nil)
			if err != nil {
				return err
			}
			snapshot[metric] = v
		}
	}
	e.mu.Lock()
	e.capacity = snapshot
	e.lastRefresh = e.Now()
	e.mu.Unlock()
	return nil
}
