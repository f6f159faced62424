package main

import (
	"context"
	"math/big"

	"kinesis-shard-autoscaler/internal/bignum"
	"kinesis-shard-autoscaler/internal/shard"
	"kinesis-shard-autoscaler/internal/streamcontrol"
)

// liveTopology lists the stream's open shards and infers the hash
// space bound as the maximum End among them, mirroring the daemon
// engine's own inference (the control plane never returns the space
// bound directly).
func liveTopology(ctx context.Context, ctrl streamcontrol.StreamControl, streamName string) (shard.Topology, error) {
	shards, err := ctrl.ListOpenShards(ctx, streamName)
	if err != nil {
		return shard.Topology{}, err
	}
	if len(shards) == 0 {
		return shard.Topology{}, newUsageError("stream %s has no open shards", streamName)
	}

	max := big.NewInt(0)
	for _, s := range shards {
		if s.End.Cmp(max) > 0 {
			max = s.End
		}
	}

	space := bignum.NewSpace(max)
	return shard.BuildOpenTopology(space, shards), nil
}
