package planner

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"kinesis-shard-autoscaler/internal/bignum"
	"kinesis-shard-autoscaler/internal/shard"
)

func equalTopology(space bignum.Space, n int) shard.Topology {
	bounds := bignum.IdealBoundaries(space, n)
	shards := make([]shard.Shard, n)
	for i := 0; i < n; i++ {
		end := new(big.Int).Sub(bounds[i+1], big.NewInt(1))
		shards[i] = shard.Shard{
			ID:    idFor(i),
			Start: bounds[i],
			End:   end,
		}
	}
	return shard.Topology{Space: space, Shards: shards}
}

func idFor(i int) string {
	return "shard-" + big.NewInt(int64(i)).String()
}

// simulate applies a plan to a virtual shard slice and returns the
// resulting topology, mimicking what the real control plane would do
// without any network calls.
func simulate(t *testing.T, space bignum.Space, topo shard.Topology, ops []PlannedOp) shard.Topology {
	t.Helper()
	shards := append([]shard.Shard(nil), topo.Shards...)

	findIdx := func(start *big.Int) int {
		for i, s := range shards {
			if s.Start.Cmp(start) == 0 {
				return i
			}
		}
		t.Fatalf("no shard starting at %s", start)
		return -1
	}

	for _, op := range ops {
		switch op.Kind {
		case OpSplit:
			i := findIdx(op.ShardStart)
			s := shards[i]
			left := shard.Shard{ID: s.ID + "-L", Start: s.Start, End: new(big.Int).Sub(op.SplitAt, big.NewInt(1)), ParentID: s.ID}
			right := shard.Shard{ID: s.ID + "-R", Start: op.SplitAt, End: s.End, ParentID: s.ID}
			shards = append(shards[:i], append([]shard.Shard{left, right}, shards[i+1:]...)...)
		case OpMerge:
			i := findIdx(op.LowerStart)
			j := findIdx(op.HigherStart)
			require.Equal(t, i+1, j, "merge must target adjacent shards")
			lower, higher := shards[i], shards[j]
			merged := shard.Shard{ID: lower.ID + "+" + higher.ID, Start: lower.Start, End: higher.End, ParentID: lower.ID, AdjacentParent: higher.ID}
			shards = append(shards[:i], append([]shard.Shard{merged}, shards[j+1:]...)...)
		}
	}

	return shard.Topology{Space: space, Shards: shards}
}

func TestPlanNoActionWhenAlreadyBalanced(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(299))
	topo := equalTopology(space, 3)

	ops, err := Plan(topo, 3, 1, 10)
	require.NoError(t, err)
	require.Empty(t, ops)
}

func TestPlanReachesBalanceAcrossTransitions(t *testing.T) {
	space := bignum.NewSpace(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1)))

	transitions := []struct{ from, to int }{
		{2, 3}, {3, 5}, {5, 2}, {4, 4}, {1, 4}, {7, 1},
	}

	for _, tr := range transitions {
		topo := equalTopology(space, tr.from)
		ops, err := Plan(topo, tr.to, 1, 10)
		require.NoError(t, err, "from=%d to=%d", tr.from, tr.to)

		result := simulate(t, space, topo, ops)
		final := shard.BuildOpenTopology(space, result.Shards)
		require.Equal(t, tr.to, final.Count(), "from=%d to=%d", tr.from, tr.to)
		require.True(t, final.CoversWholeSpace(), "from=%d to=%d", tr.from, tr.to)
		require.True(t, final.Balanced(), "from=%d to=%d", tr.from, tr.to)
	}
}

func TestPlanClampsTargetToBounds(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))
	topo := equalTopology(space, 2)

	ops, err := Plan(topo, 50, 1, 4)
	require.NoError(t, err)

	result := simulate(t, space, topo, ops)
	final := shard.BuildOpenTopology(space, result.Shards)
	require.Equal(t, 4, final.Count())
}

func TestPlanRejectsNonAdjacentGap(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))
	topo := shard.Topology{
		Space: space,
		Shards: []shard.Shard{
			{ID: "a", Start: big.NewInt(0), End: big.NewInt(40)},
			{ID: "b", Start: big.NewInt(50), End: big.NewInt(99)},
		},
	}

	_, err := Plan(topo, 2, 1, 10)
	require.Error(t, err)
}
