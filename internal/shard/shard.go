// Package shard models the keyspace partition of a stream: shards as
// inclusive hash ranges, and the open-shard topology derived from a
// raw shard listing.
package shard

import (
	"math/big"
	"sort"

	"kinesis-shard-autoscaler/internal/bignum"
)

// Shard is a contiguous hash-range partition of a stream's keyspace.
// Start and End are inclusive bounds inside [0, H].
type Shard struct {
	ID             string
	Start          *big.Int
	End            *big.Int
	ParentID       string
	AdjacentParent string
}

// Width returns End - Start + 1.
func (s Shard) Width() *big.Int {
	w := new(big.Int).Sub(s.End, s.Start)
	return w.Add(w, big.NewInt(1))
}

// AdjacentTo reports whether s directly precedes other (s.End+1 == other.Start).
func (s Shard) AdjacentTo(other Shard) bool {
	next := new(big.Int).Add(s.End, big.NewInt(1))
	return next.Cmp(other.Start) == 0
}

// Topology is the ordered sequence of a stream's open shards, ascending
// by Start. An open shard is one that never appears as another shard's
// ParentID or AdjacentParent in the raw listing it was built from.
type Topology struct {
	Space  bignum.Space
	Shards []Shard
}

// BuildOpenTopology derives the open-shard topology from a raw shard
// listing (open and closed shards alike), per spec section 4.C.
func BuildOpenTopology(space bignum.Space, raw []Shard) Topology {
	closed := make(map[string]bool, len(raw))
	for _, s := range raw {
		if s.ParentID != "" {
			closed[s.ParentID] = true
		}
		if s.AdjacentParent != "" {
			closed[s.AdjacentParent] = true
		}
	}

	open := make([]Shard, 0, len(raw))
	for _, s := range raw {
		if !closed[s.ID] {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].Start.Cmp(open[j].Start) < 0
	})

	return Topology{Space: space, Shards: open}
}

// Count returns the number of open shards.
func (t Topology) Count() int {
	return len(t.Shards)
}

// FractionalCoverage returns shard i's width as a PctScale-scaled
// fraction of the total space width.
func (t Topology) FractionalCoverage(i int) *big.Int {
	return bignum.ScaledFraction(t.Shards[i].Width(), t.Space.Width())
}

// Balanced reports whether every shard's fractional coverage equals
// 1/N within bignum.Tolerance10e9, where N is the open shard count.
// An empty topology is never balanced.
func (t Topology) Balanced() bool {
	n := len(t.Shards)
	if n == 0 {
		return false
	}
	ideal := bignum.ScaledFraction(big.NewInt(1), big.NewInt(int64(n)))
	for i := range t.Shards {
		if !bignum.WithinTolerance(t.FractionalCoverage(i), ideal, bignum.Tolerance10e9) {
			return false
		}
	}
	return true
}

// CoversWholeSpace verifies the union/disjointness invariant of spec
// section 3: shards must be contiguous from 0 through Space.Max with
// no gaps or overlaps. Shards is assumed sorted by Start (true of any
// Topology returned by BuildOpenTopology).
func (t Topology) CoversWholeSpace() bool {
	if len(t.Shards) == 0 {
		return false
	}
	if t.Shards[0].Start.Sign() != 0 {
		return false
	}
	for i := 0; i < len(t.Shards)-1; i++ {
		if !t.Shards[i].AdjacentTo(t.Shards[i+1]) {
			return false
		}
	}
	last := t.Shards[len(t.Shards)-1]
	return last.End.Cmp(t.Space.Max) == 0
}
