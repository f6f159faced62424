// Package scalingmath implements the pure numeric translation from a
// scaling request (an absolute count or a percentage, in a direction)
// to a target shard count, per spec section 4.E.
package scalingmath

import "math"

// Direction is the scale direction a ThresholdSpec fires for.
type Direction int

const (
	Up Direction = iota
	Down
)

// Request mirrors a ThresholdSpec's count/pct fields for a single
// scaling decision. Exactly one of Count/Pct should be set; Count wins
// over Pct when both are present, per spec section 4.E.
type Request struct {
	Count *int
	Pct   *int
	Min   *int
	Max   *int
}

// NewShardCount computes the target shard count for current given the
// request and direction, clamping to [min,max] when provided and
// flooring at 1 regardless.
//
// The DOWN branch for pct<=100 rounds the shrink amount up (ceil)
// rather than down: spec section 4.E's prose says floor, but its own
// worked example (current=75, pct=25, DOWN -> 56) is only reachable by
// ceiling the shrink amount, so the worked example is treated as
// authoritative (see DESIGN.md).
func NewShardCount(current int, req Request, dir Direction) int {
	var target int

	switch {
	case req.Count != nil:
		if dir == Up {
			target = current + *req.Count
		} else {
			target = current - *req.Count
		}
	case req.Pct != nil:
		pct := *req.Pct
		c := float64(current)
		switch dir {
		case Up:
			var factor float64
			if pct < 100 {
				factor = float64(100+pct) / 100.0
			} else {
				factor = float64(pct) / 100.0
			}
			target = int(math.Ceil(c * factor))
		case Down:
			if pct > 100 {
				factor := float64(pct) / 100.0
				target = int(math.Floor(c / factor))
			} else {
				factor := float64(pct) / 100.0
				target = current - int(math.Ceil(c*factor))
			}
		}
	default:
		target = current
	}

	if req.Min != nil && target < *req.Min {
		target = *req.Min
	}
	if req.Max != nil && target > *req.Max {
		target = *req.Max
	}
	if target < 1 {
		target = 1
	}
	return target
}
