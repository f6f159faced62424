// Package metricsource defines the metric-source adapter contract of
// spec section 4.A: per-minute utilization samples and provider-quoted
// per-shard capacity, plus a CloudWatch-backed implementation.
package metricsource

import (
	"context"
	"time"

	"kinesis-shard-autoscaler/internal/shard"
)

// Metric is one of the two utilization signals spec section 4.F votes
// on per operation.
type Metric string

const (
	MetricRecords Metric = "Records"
	MetricBytes   Metric = "Bytes"
)

// Source is the metric-source adapter contract of spec 4.A. No retry
// policy beyond the adapter's own; failures surface as errors to the
// decision engine.
type Source interface {
	// Samples returns aggregated sum-per-minute datapoints keyed by
	// minute-truncated timestamp over [start,end]. Gaps are permitted
	// and mean zero activity.
	Samples(ctx context.Context, stream, op string, metric Metric, start, end time.Time) (map[time.Time]float64, error)

	// PerShardMax returns the provider-published quota per shard for
	// (stream, op, metric). Shard is accepted, not yet used by any
	// implementation, so a future provider whose quota varies by shard
	// width or tier doesn't require an interface change (spec section
	// 9, "Open question" on per-shard-varying capacity).
	PerShardMax(ctx context.Context, stream, op string, metric Metric, s *shard.Shard) (float64, error)
}
