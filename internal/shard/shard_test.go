package shard

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinesis-shard-autoscaler/internal/bignum"
)

func TestBuildOpenTopologyFiltersClosedShards(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))
	raw := []Shard{
		{ID: "parent", Start: big.NewInt(0), End: big.NewInt(99)},
		{ID: "child-a", Start: big.NewInt(0), End: big.NewInt(49), ParentID: "parent"},
		{ID: "child-b", Start: big.NewInt(50), End: big.NewInt(99), ParentID: "parent"},
	}

	topo := BuildOpenTopology(space, raw)

	require.Len(t, topo.Shards, 2)
	assert.Equal(t, "child-a", topo.Shards[0].ID)
	assert.Equal(t, "child-b", topo.Shards[1].ID)
}

func TestBuildOpenTopologySortsByStart(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))
	raw := []Shard{
		{ID: "b", Start: big.NewInt(50), End: big.NewInt(99)},
		{ID: "a", Start: big.NewInt(0), End: big.NewInt(49)},
	}

	topo := BuildOpenTopology(space, raw)

	require.Len(t, topo.Shards, 2)
	assert.Equal(t, "a", topo.Shards[0].ID)
	assert.Equal(t, "b", topo.Shards[1].ID)
}

func TestCoversWholeSpace(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))

	t.Run("contiguous", func(t *testing.T) {
		topo := Topology{Space: space, Shards: []Shard{
			{ID: "a", Start: big.NewInt(0), End: big.NewInt(49)},
			{ID: "b", Start: big.NewInt(50), End: big.NewInt(99)},
		}}
		assert.True(t, topo.CoversWholeSpace())
	})

	t.Run("gap", func(t *testing.T) {
		topo := Topology{Space: space, Shards: []Shard{
			{ID: "a", Start: big.NewInt(0), End: big.NewInt(40)},
			{ID: "b", Start: big.NewInt(50), End: big.NewInt(99)},
		}}
		assert.False(t, topo.CoversWholeSpace())
	})

	t.Run("does not start at zero", func(t *testing.T) {
		topo := Topology{Space: space, Shards: []Shard{
			{ID: "a", Start: big.NewInt(1), End: big.NewInt(99)},
		}}
		assert.False(t, topo.CoversWholeSpace())
	})

	t.Run("does not reach max", func(t *testing.T) {
		topo := Topology{Space: space, Shards: []Shard{
			{ID: "a", Start: big.NewInt(0), End: big.NewInt(98)},
		}}
		assert.False(t, topo.CoversWholeSpace())
	})

	t.Run("empty", func(t *testing.T) {
		topo := Topology{Space: space}
		assert.False(t, topo.CoversWholeSpace())
	})
}

func TestBalanced(t *testing.T) {
	space := bignum.NewSpace(big.NewInt(99))

	t.Run("equal thirds", func(t *testing.T) {
		bounds := bignum.IdealBoundaries(space, 3)
		topo := Topology{Space: space}
		for i := 0; i < 3; i++ {
			end := new(big.Int).Sub(bounds[i+1], big.NewInt(1))
			topo.Shards = append(topo.Shards, Shard{ID: "s", Start: bounds[i], End: end})
		}
		assert.True(t, topo.Balanced())
	})

	t.Run("skewed", func(t *testing.T) {
		topo := Topology{Space: space, Shards: []Shard{
			{ID: "a", Start: big.NewInt(0), End: big.NewInt(9)},
			{ID: "b", Start: big.NewInt(10), End: big.NewInt(99)},
		}}
		assert.False(t, topo.Balanced())
	})

	t.Run("empty is not balanced", func(t *testing.T) {
		topo := Topology{Space: space}
		assert.False(t, topo.Balanced())
	})
}

func TestShardWidthAndAdjacency(t *testing.T) {
	a := Shard{ID: "a", Start: big.NewInt(0), End: big.NewInt(9)}
	b := Shard{ID: "b", Start: big.NewInt(10), End: big.NewInt(19)}

	assert.Equal(t, big.NewInt(10), a.Width())
	assert.True(t, a.AdjacentTo(b))
	assert.False(t, b.AdjacentTo(a))
}
