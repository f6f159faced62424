package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"kinesis-shard-autoscaler/internal/errs"
	"kinesis-shard-autoscaler/internal/shard"
)

// CloudWatchClient is the subset of the AWS SDK v2 CloudWatch client
// this adapter needs.
type CloudWatchClient interface {
	GetMetricData(ctx context.Context, in *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// perShardQuota holds the published Kinesis per-shard throughput
// limits: 1,000 records/sec and 1 MiB/sec ingress per shard.
var perShardQuota = map[Metric]float64{
	MetricRecords: 1000,
	MetricBytes:   1 << 20,
}

// metricNameFor maps (op, metric) to the CloudWatch metric name
// Kinesis publishes under the AWS/Kinesis namespace.
func metricNameFor(op string, metric Metric) (string, error) {
	switch {
	case op == "PUT" && metric == MetricRecords:
		return "IncomingRecords", nil
	case op == "PUT" && metric == MetricBytes:
		return "IncomingBytes", nil
	case op == "GET" && metric == MetricRecords:
		return "GetRecords.Records", nil
	case op == "GET" && metric == MetricBytes:
		return "GetRecords.Bytes", nil
	default:
		return "", fmt.Errorf("%w: no CloudWatch metric for op=%s metric=%s", errs.ErrConfigInvalid, op, metric)
	}
}

// CloudWatch adapts the AWS CloudWatch client to the Source contract.
type CloudWatch struct {
	Client CloudWatchClient
}

// NewCloudWatch builds a CloudWatch-backed Source.
func NewCloudWatch(client CloudWatchClient) *CloudWatch {
	return &CloudWatch{Client: client}
}

func (c *CloudWatch) Samples(ctx context.Context, streamName, op string, metric Metric, start, end time.Time) (map[time.Time]float64, error) {
	name, err := metricNameFor(op, metric)
	if err != nil {
		return nil, err
	}

	out, err := c.Client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		MetricDataQueries: []types.MetricDataQuery{
			{
				Id: aws.String("m1"),
				MetricStat: &types.MetricStat{
					Metric: &types.Metric{
						Namespace:  aws.String("AWS/Kinesis"),
						MetricName: aws.String(name),
						Dimensions: []types.Dimension{
							{Name: aws.String("StreamName"), Value: aws.String(streamName)},
						},
					},
					Period: aws.Int32(60),
					Stat:   aws.String("Sum"),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s for stream %s: %w", name, streamName, err)
	}

	samples := make(map[time.Time]float64)
	for _, result := range out.MetricDataResults {
		for i, ts := range result.Timestamps {
			samples[ts.Truncate(time.Minute)] = result.Values[i]
		}
	}
	return samples, nil
}

func (c *CloudWatch) PerShardMax(ctx context.Context, streamName, op string, metric Metric, s *shard.Shard) (float64, error) {
	quota, ok := perShardQuota[metric]
	if !ok {
		return 0, fmt.Errorf("%w: no published quota for metric %s", errs.ErrConfigInvalid, metric)
	}
	return quota, nil
}
