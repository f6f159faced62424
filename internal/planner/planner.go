// Package planner implements the keyspace-aware resize planner of spec
// section 4.D: given a current open-shard topology and a target shard
// count, it plans the ordered sequence of split/merge operations that
// reaches a balanced, N-way equal partition of the stream's hash
// space. The plan comes from one left-to-right walk over the current
// shards: a shard that falls short of its ideal boundary is merged
// with its right neighbor, one that overshoots it is split at the
// boundary. Operations are emitted in walk order; merges are not moved
// ahead of splits.
package planner

import (
	"context"
	"fmt"
	"math/big"

	"kinesis-shard-autoscaler/internal/bignum"
	"kinesis-shard-autoscaler/internal/errs"
	"kinesis-shard-autoscaler/internal/shard"
	"kinesis-shard-autoscaler/internal/streamcontrol"
)

// OpKind distinguishes the two shard mutations the control plane
// supports.
type OpKind int

const (
	OpSplit OpKind = iota
	OpMerge
)

// PlannedOp is one step of a plan, expressed in terms of hash-range
// boundaries rather than live shard IDs: the executor resolves a
// PlannedOp to a real shard ID by matching Start against the topology
// it re-lists immediately before issuing the operation, since earlier
// operations in the same plan may have changed which shard currently
// owns a given range.
type PlannedOp struct {
	Kind OpKind

	// Split fields.
	ShardStart *big.Int
	SplitAt    *big.Int

	// Merge fields: the two adjacent shards being merged, identified
	// by the Start of the lower one and the Start of the higher one.
	LowerStart  *big.Int
	HigherStart *big.Int
}

func (op PlannedOp) String() string {
	switch op.Kind {
	case OpSplit:
		return fmt.Sprintf("split(start=%s at=%s)", op.ShardStart, op.SplitAt)
	default:
		return fmt.Sprintf("merge(lower=%s higher=%s)", op.LowerStart, op.HigherStart)
	}
}

// virtualShard is a working-copy range used only while computing a
// plan; it carries no control-plane identity.
type virtualShard struct {
	start, end *big.Int
}

func (v virtualShard) adjacentTo(other virtualShard) bool {
	next := new(big.Int).Add(v.end, big.NewInt(1))
	return next.Cmp(other.start) == 0
}

// Plan computes the ordered operation sequence to take topology from
// its current open-shard count to target shards, clamped to
// [minShards,maxShards]. It returns an empty, nil-error plan when the
// topology is already balanced at the (clamped) target count, per
// spec section 4.D step 1.
func Plan(topo shard.Topology, target, minShards, maxShards int) ([]PlannedOp, error) {
	if minShards < 1 {
		minShards = 1
	}
	if maxShards < minShards {
		maxShards = minShards
	}
	if target < minShards {
		target = minShards
	}
	if target > maxShards {
		target = maxShards
	}

	if target == topo.Count() && topo.Balanced() {
		return nil, nil
	}
	if !topo.CoversWholeSpace() {
		return nil, fmt.Errorf("%w: input topology does not cover the whole hash space", errs.ErrInconsistent)
	}

	working := make([]virtualShard, len(topo.Shards))
	for i, s := range topo.Shards {
		working[i] = virtualShard{start: s.Start, end: s.End}
	}

	ideal := bignum.IdealBoundaries(topo.Space, target)

	var ops []PlannedOp
	cursor := 0 // number of ideal partitions already closed
	i := 0
	for i < len(working) && cursor < target {
		s := working[i]
		boundary := ideal[cursor+1] // end of current shard == boundary-1 closes partition `cursor`
		boundaryEnd := new(big.Int).Sub(boundary, big.NewInt(1))

		switch s.end.Cmp(boundaryEnd) {
		case -1: // s.end < boundary-1: shard falls short, must merge with its neighbor
			if i+1 >= len(working) {
				return nil, fmt.Errorf("%w: shard at end of topology falls short of target boundary with no neighbor to merge", errs.ErrInconsistent)
			}
			next := working[i+1]
			if !s.adjacentTo(next) {
				return nil, fmt.Errorf("%w: shards %s and %s are not adjacent, cannot merge", errs.ErrInconsistent, s.start, next.start)
			}
			ops = append(ops, PlannedOp{Kind: OpMerge, LowerStart: s.start, HigherStart: next.start})
			merged := virtualShard{start: s.start, end: next.end}
			working = append(working[:i], append([]virtualShard{merged}, working[i+2:]...)...)
			// restart consideration at the merged shard

		case 1: // s.end > boundary-1: split off the excess
			ops = append(ops, PlannedOp{Kind: OpSplit, ShardStart: s.start, SplitAt: boundary})
			left := virtualShard{start: s.start, end: boundaryEnd}
			right := virtualShard{start: boundary, end: s.end}
			replacement := []virtualShard{left, right}
			working = append(working[:i], append(replacement, working[i+1:]...)...)
			cursor++
			i++ // left piece closes partition `cursor`; continue walk at the right piece

		default: // exact match: this boundary is already satisfied
			cursor++
			i++
		}
	}

	if cursor != target {
		return nil, fmt.Errorf("%w: planning left %d of %d boundaries unresolved", errs.ErrInconsistent, target-cursor, target)
	}

	return ops, nil
}

// Apply resolves and executes a plan against the live control plane,
// re-listing open shards before each step so that an op can find the
// real shard ID currently owning the range it targets (earlier ops in
// the plan may have changed that). waitForCompletion is forwarded to
// each control-plane call per spec section 4.B.
func Apply(ctx context.Context, ctrl streamcontrol.StreamControl, streamName string, ops []PlannedOp, waitForCompletion bool) error {
	for _, op := range ops {
		shards, err := ctrl.ListOpenShards(ctx, streamName)
		if err != nil {
			return fmt.Errorf("listing open shards before %s: %w", op, err)
		}
		switch op.Kind {
		case OpSplit:
			id, ok := findByStart(shards, op.ShardStart)
			if !ok {
				return fmt.Errorf("%w: no live shard starts at %s for %s", errs.ErrInconsistent, op.ShardStart, op)
			}
			if err := ctrl.Split(ctx, streamName, id, op.SplitAt, waitForCompletion); err != nil {
				return fmt.Errorf("executing %s: %w", op, err)
			}
		case OpMerge:
			lowerID, ok := findByStart(shards, op.LowerStart)
			if !ok {
				return fmt.Errorf("%w: no live shard starts at %s for %s", errs.ErrInconsistent, op.LowerStart, op)
			}
			higherID, ok := findByStart(shards, op.HigherStart)
			if !ok {
				return fmt.Errorf("%w: no live shard starts at %s for %s", errs.ErrInconsistent, op.HigherStart, op)
			}
			if err := ctrl.Merge(ctx, streamName, lowerID, higherID, waitForCompletion); err != nil {
				return fmt.Errorf("executing %s: %w", op, err)
			}
		}
	}
	return nil
}

func findByStart(shards []shard.Shard, start *big.Int) (string, bool) {
	for _, s := range shards {
		if s.Start.Cmp(start) == 0 {
			return s.ID, true
		}
	}
	return "", false
}
