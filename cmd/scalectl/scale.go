package main

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"kinesis-shard-autoscaler/internal/planner"
	"kinesis-shard-autoscaler/internal/scalingmath"
)

// unboundedMaxShards stands in for "no upper bound" when --max-shards
// is left at its zero value; the planner and scalingmath packages both
// expect a concrete bound.
const unboundedMaxShards = math.MaxInt32

func (f *commonFlags) effectiveMaxShards() int {
	if f.maxShards <= 0 {
		return unboundedMaxShards
	}
	return f.maxShards
}

type commonFlags struct {
	streamName        string
	count             int
	pct               int
	minShards         int
	maxShards         int
	region            string
	shardID           string
	waitForCompletion bool
}

func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVar(&f.streamName, "stream-name", "", "stream to resize (required)")
	cmd.Flags().IntVar(&f.count, "count", 0, "absolute shard delta (or target count for resize)")
	cmd.Flags().IntVar(&f.pct, "pct", 0, "percentage shard delta")
	cmd.Flags().IntVar(&f.minShards, "min-shards", 1, "lower bound on shard count")
	cmd.Flags().IntVar(&f.maxShards, "max-shards", 0, "upper bound on shard count, 0 means unbounded")
	cmd.Flags().StringVar(&f.region, "region", "", "AWS region, defaults to the SDK's resolved region")
	cmd.Flags().StringVar(&f.shardID, "shard-id", "", "shard to target for a single split (resize only)")
	cmd.Flags().BoolVar(&f.waitForCompletion, "wait-for-completion", true, "block until every planned operation's shard reaches ACTIVE")
}

func (f *commonFlags) validate() error {
	if f.streamName == "" {
		return newUsageError("--stream-name is required")
	}
	if f.count == 0 && f.pct == 0 {
		return newUsageError("one of --count or --pct is required")
	}
	if f.count != 0 && f.pct != 0 {
		return newUsageError("--count and --pct are mutually exclusive")
	}
	return nil
}

func (f *commonFlags) request() scalingmath.Request {
	req := scalingmath.Request{Min: &f.minShards}
	if f.count != 0 {
		req.Count = &f.count
	}
	if f.pct != 0 {
		req.Pct = &f.pct
	}
	max := f.effectiveMaxShards()
	req.Max = &max
	return req
}

func runResize(cmd *cobra.Command, f *commonFlags, dir scalingmath.Direction) error {
	if err := f.validate(); err != nil {
		return err
	}

	ctx := context.Background()
	ctrl, err := buildControl(ctx, f.region)
	if err != nil {
		return err
	}

	topo, err := liveTopology(ctx, ctrl, f.streamName)
	if err != nil {
		return fmt.Errorf("listing shards: %w", err)
	}

	current := topo.Count()
	target := scalingmath.NewShardCount(current, f.request(), dir)
	if target == current {
		fmt.Printf("%s is already at %d open shards, no action taken\n", f.streamName, current)
		return nil
	}

	ops, err := planner.Plan(topo, target, f.minShards, f.effectiveMaxShards())
	if err != nil {
		return fmt.Errorf("planning resize: %w", err)
	}

	if err := planner.Apply(ctx, ctrl, f.streamName, ops, f.waitForCompletion); err != nil {
		return fmt.Errorf("applying resize: %w", err)
	}

	fmt.Printf("%s resized from %d to %d open shards (%d operations)\n", f.streamName, current, target, len(ops))
	return nil
}

var scaleUpFlags commonFlags
var scaleUpCmd = &cobra.Command{
	Use:   "scale-up",
	Short: "Increase a stream's open shard count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(cmd, &scaleUpFlags, scalingmath.Up)
	},
}

var scaleDownFlags commonFlags
var scaleDownCmd = &cobra.Command{
	Use:   "scale-down",
	Short: "Decrease a stream's open shard count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResize(cmd, &scaleDownFlags, scalingmath.Down)
	},
}

var resizeFlags commonFlags
var resizeCmd = &cobra.Command{
	Use:   "resize",
	Short: "Split a single shard or drive the stream to an exact target count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resizeFlags.streamName == "" {
			return newUsageError("--stream-name is required")
		}

		ctx := context.Background()
		ctrl, err := buildControl(ctx, resizeFlags.region)
		if err != nil {
			return err
		}

		if resizeFlags.shardID != "" {
			topo, err := liveTopology(ctx, ctrl, resizeFlags.streamName)
			if err != nil {
				return fmt.Errorf("listing shards: %w", err)
			}
			var target *big.Int
			for _, s := range topo.Shards {
				if s.ID == resizeFlags.shardID {
					target = new(big.Int).Add(s.Start, new(big.Int).Rsh(s.Width(), 1))
				}
			}
			if target == nil {
				return newUsageError("shard %s is not an open shard of %s", resizeFlags.shardID, resizeFlags.streamName)
			}
			if err := ctrl.Split(ctx, resizeFlags.streamName, resizeFlags.shardID, target, resizeFlags.waitForCompletion); err != nil {
				return fmt.Errorf("splitting shard: %w", err)
			}
			fmt.Printf("split shard %s of %s at %s\n", resizeFlags.shardID, resizeFlags.streamName, target)
			return nil
		}

		if resizeFlags.count == 0 {
			return newUsageError("--count (absolute target shard count) is required without --shard-id")
		}

		topo, err := liveTopology(ctx, ctrl, resizeFlags.streamName)
		if err != nil {
			return fmt.Errorf("listing shards: %w", err)
		}

		ops, err := planner.Plan(topo, resizeFlags.count, resizeFlags.minShards, resizeFlags.effectiveMaxShards())
		if err != nil {
			return fmt.Errorf("planning resize: %w", err)
		}
		if err := planner.Apply(ctx, ctrl, resizeFlags.streamName, ops, resizeFlags.waitForCompletion); err != nil {
			return fmt.Errorf("applying resize: %w", err)
		}
		fmt.Printf("%s resized from %d to %d open shards (%d operations)\n", resizeFlags.streamName, topo.Count(), resizeFlags.count, len(ops))
		return nil
	},
}

var reportFlags commonFlags
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the resize plan for a target shard count without executing it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportFlags.streamName == "" {
			return newUsageError("--stream-name is required")
		}
		if reportFlags.count == 0 {
			return newUsageError("--count (target shard count) is required")
		}

		ctx := context.Background()
		ctrl, err := buildControl(ctx, reportFlags.region)
		if err != nil {
			return err
		}

		topo, err := liveTopology(ctx, ctrl, reportFlags.streamName)
		if err != nil {
			return fmt.Errorf("listing shards: %w", err)
		}

		ops, err := planner.Plan(topo, reportFlags.count, reportFlags.minShards, reportFlags.effectiveMaxShards())
		if err != nil {
			return fmt.Errorf("planning resize: %w", err)
		}

		fmt.Printf("plan for %s: %d open shards -> %d (generated %s)\n", reportFlags.streamName, topo.Count(), reportFlags.count, time.Now().UTC().Format(time.RFC3339))
		for i, op := range ops {
			fmt.Printf("  %d. %s\n", i+1, op.String())
		}
		if len(ops) == 0 {
			fmt.Println("  (no operations needed, already balanced at this count)")
		}
		return nil
	},
}

func init() {
	addCommonFlags(scaleUpCmd, &scaleUpFlags)
	addCommonFlags(scaleDownCmd, &scaleDownFlags)
	addCommonFlags(resizeCmd, &resizeFlags)
	addCommonFlags(reportCmd, &reportFlags)
}
