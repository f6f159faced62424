package engine

import (
	"context"
	"time"

	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/metricsource"
)

// Decision is the per-op or combined scale decision of spec section
// 4.F.
type Decision string

const (
	DecisionUp   Decision = "UP"
	DecisionDown Decision = "DOWN"
	DecisionNone Decision = "NONE"
)

// classification buckets a single utilization sample against the
// policy's up/down thresholds.
type classification int

const (
	classNeutral classification = iota
	classHigh
	classLow
)

func classify(pct float64, up, down config.ThresholdSpec) classification {
	switch {
	case pct > float64(up.ThresholdPct)/100:
		return classHigh
	case pct < float64(down.ThresholdPct)/100:
		return classLow
	default:
		return classNeutral
	}
}

// metricVote is one metric's moving average and high/low counts over
// the window, used to pick the driving metric for an operation.
type metricVote struct {
	movingAvgPct float64
	highCount    int
	lowCount     int
}

// voteForOperation implements spec 4.F steps 2-3: fetch samples for
// both metrics over the window, classify each minute, pick the metric
// with the higher moving-average pct as the driving metric, and vote
// from its high/low counts against the policy's afterMins thresholds.
func voteForOperation(ctx context.Context, src metricsource.Source, streamName, op string, openShardCount int, windowStart, now time.Time, policy config.StreamPolicy) (Decision, error) {
	votes := make(map[metricsource.Metric]metricVote, 2)

	for _, metric := range []metricsource.Metric{metricsource.MetricRecords, metricsource.MetricBytes} {
		capacity, err := src.PerShardMax(ctx, streamName, op, metric, nil)
		if err != nil {
			return DecisionNone, err
		}
		streamCapacity := capacity * float64(openShardCount)

		samples, err := src.Samples(ctx, streamName, op, metric, windowStart, now)
		if err != nil {
			return DecisionNone, err
		}

		var sumPct float64
		var n int
		var high, low int
		for minute := windowStart.Truncate(time.Minute); !minute.After(now); minute = minute.Add(time.Minute) {
			observed := samples[minute] // zero value for a missing datapoint
			var pct float64
			if streamCapacity > 0 {
				pct = observed / streamCapacity
			}
			switch classify(pct, policy.Up, policy.Down) {
			case classHigh:
				high++
			case classLow:
				low++
			}
			sumPct += pct
			n++
		}

		avg := 0.0
		if n > 0 {
			avg = sumPct / float64(n)
		}
		votes[metric] = metricVote{movingAvgPct: avg, highCount: high, lowCount: low}
	}

	driving := votes[metricsource.MetricRecords]
	if votes[metricsource.MetricBytes].movingAvgPct > driving.movingAvgPct {
		driving = votes[metricsource.MetricBytes]
	}

	switch {
	case driving.highCount >= policy.Up.AfterMins:
		return DecisionUp, nil
	case driving.lowCount >= policy.Down.AfterMins:
		return DecisionDown, nil
	default:
		return DecisionNone, nil
	}
}

// combine implements spec 4.F step 4's decision matrix: any UP wins,
// both DOWN wins, else NONE. With a single configured operation its
// vote is the decision.
func combine(votes []Decision) Decision {
	if len(votes) == 1 {
		return votes[0]
	}
	allDown := true
	for _, v := range votes {
		if v == DecisionUp {
			return DecisionUp
		}
		if v != DecisionDown {
			allDown = false
		}
	}
	if allDown {
		return DecisionDown
	}
	return DecisionNone
}
