package streamcontrol

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/bignum"
	"kinesis-shard-autoscaler/internal/errs"
	"kinesis-shard-autoscaler/internal/shard"
)

// KinesisClient is the subset of the AWS SDK v2 Kinesis client this
// adapter needs, narrowed for testability (fakes implement this
// directly instead of the full generated client).
type KinesisClient interface {
	DescribeStreamSummary(ctx context.Context, in *kinesis.DescribeStreamSummaryInput, opts ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error)
	ListShards(ctx context.Context, in *kinesis.ListShardsInput, opts ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	SplitShard(ctx context.Context, in *kinesis.SplitShardInput, opts ...func(*kinesis.Options)) (*kinesis.SplitShardOutput, error)
	MergeShards(ctx context.Context, in *kinesis.MergeShardsInput, opts ...func(*kinesis.Options)) (*kinesis.MergeShardsOutput, error)
}

// Kinesis adapts an AWS Kinesis client to the StreamControl contract,
// applying the retry discipline of spec section 4.B around every
// mutating call.
type Kinesis struct {
	Client  KinesisClient
	Retrier *Retrier
	Log     *logrus.Logger
}

// NewKinesis builds a Kinesis-backed StreamControl.
func NewKinesis(client KinesisClient, log *logrus.Logger) *Kinesis {
	return &Kinesis{Client: client, Retrier: NewRetrier(), Log: log}
}

func (k *Kinesis) Describe(ctx context.Context, stream string) (Description, error) {
	var desc Description
	err := k.Retrier.Do(ctx, func() error {
		out, err := k.Client.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
			StreamName: aws.String(stream),
		})
		if err != nil {
			return classifyKinesisErr(err)
		}
		desc = Description{
			Status:         StreamStatus(out.StreamDescriptionSummary.StreamStatus),
			OpenShardCount: int(aws.ToInt32(out.StreamDescriptionSummary.OpenShardCount)),
		}
		return nil
	})
	return desc, err
}

func (k *Kinesis) ListOpenShards(ctx context.Context, stream string) ([]shard.Shard, error) {
	var raw []shard.Shard
	var nextToken *string

	for {
		var out *kinesis.ListShardsOutput
		err := k.Retrier.Do(ctx, func() error {
			in := &kinesis.ListShardsInput{}
			if nextToken != nil {
				in.NextToken = nextToken
			} else {
				in.StreamName = aws.String(stream)
			}
			var callErr error
			out, callErr = k.Client.ListShards(ctx, in)
			if callErr != nil {
				return classifyKinesisErr(callErr)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing shards for stream %s: %w", stream, err)
		}

		for _, s := range out.Shards {
			converted, convErr := fromAPIShard(s)
			if convErr != nil {
				return nil, fmt.Errorf("stream %s: %w", stream, convErr)
			}
			raw = append(raw, converted)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	space := bignum.NewSpace(maxHash())
	return shard.BuildOpenTopology(space, raw).Shards, nil
}

func (k *Kinesis) Split(ctx context.Context, stream, shardID string, newStartingHash *big.Int, waitForActive bool) error {
	err := k.Retrier.Do(ctx, func() error {
		_, err := k.Client.SplitShard(ctx, &kinesis.SplitShardInput{
			StreamName:         aws.String(stream),
			ShardToSplit:       aws.String(shardID),
			NewStartingHashKey: aws.String(newStartingHash.String()),
		})
		return classifyKinesisErr(err)
	})
	if err != nil {
		return fmt.Errorf("splitting shard %s on stream %s: %w", shardID, stream, err)
	}
	if waitForActive {
		return WaitForActive(ctx, k, stream, nil)
	}
	return nil
}

func (k *Kinesis) Merge(ctx context.Context, stream, lowerID, higherID string, waitForActive bool) error {
	err := k.Retrier.Do(ctx, func() error {
		_, err := k.Client.MergeShards(ctx, &kinesis.MergeShardsInput{
			StreamName:           aws.String(stream),
			ShardToMerge:         aws.String(lowerID),
			AdjacentShardToMerge: aws.String(higherID),
		})
		return classifyKinesisErr(err)
	})
	if err != nil {
		return fmt.Errorf("merging shards %s,%s on stream %s: %w", lowerID, higherID, stream, err)
	}
	if waitForActive {
		return WaitForActive(ctx, k, stream, nil)
	}
	return nil
}

// maxHash is the upper bound of the Kinesis MD5 hash space, 2^128-1.
func maxHash() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return max.Sub(max, big.NewInt(1))
}

func fromAPIShard(s types.Shard) (shard.Shard, error) {
	start, ok := new(big.Int).SetString(aws.ToString(s.HashKeyRange.StartingHashKey), 10)
	if !ok {
		return shard.Shard{}, fmt.Errorf("shard %s: invalid starting hash key", aws.ToString(s.ShardId))
	}
	end, ok := new(big.Int).SetString(aws.ToString(s.HashKeyRange.EndingHashKey), 10)
	if !ok {
		return shard.Shard{}, fmt.Errorf("shard %s: invalid ending hash key", aws.ToString(s.ShardId))
	}

	var parentID, adjacentParentID string
	if s.ParentShardId != nil {
		parentID = aws.ToString(s.ParentShardId)
	}
	if s.AdjacentParentShardId != nil {
		adjacentParentID = aws.ToString(s.AdjacentParentShardId)
	}

	return shard.Shard{
		ID:             aws.ToString(s.ShardId),
		Start:          start,
		End:            end,
		ParentID:       parentID,
		AdjacentParent: adjacentParentID,
	}, nil
}

// classifyKinesisErr maps Kinesis API error codes onto the sentinel
// kinds in package errs, the single mapping point spec section 9
// asks the rewrite to centralize.
func classifyKinesisErr(err error) error {
	if err == nil {
		return nil
	}
	var rl *types.LimitExceededException
	if errors.As(err, &rl) {
		return fmt.Errorf("%s: %w", rl.ErrorMessage(), errs.ErrProviderThrottled)
	}
	var busy *types.ResourceInUseException
	if errors.As(err, &busy) {
		return fmt.Errorf("%s: %w", busy.ErrorMessage(), errs.ErrShardBusy)
	}
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return fmt.Errorf("%s: %w", nf.ErrorMessage(), errs.ErrNotFound)
	}
	return err
}
