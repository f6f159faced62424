package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeForUsageError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(newUsageError("bad flag")))
}

func TestExitCodeForOperationalError(t *testing.T) {
	assert.Equal(t, 2, exitCodeFor(errors.New("kinesis unreachable")))
}

func TestCommonFlagsValidateRequiresStreamName(t *testing.T) {
	f := commonFlags{count: 1}
	err := f.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream-name")
}

func TestCommonFlagsValidateRequiresCountOrPct(t *testing.T) {
	f := commonFlags{streamName: "orders"}
	err := f.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--count")
}

func TestCommonFlagsValidateRejectsBothCountAndPct(t *testing.T) {
	f := commonFlags{streamName: "orders", count: 2, pct: 50}
	err := f.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestEffectiveMaxShardsDefaultsToUnbounded(t *testing.T) {
	f := commonFlags{}
	assert.Equal(t, unboundedMaxShards, f.effectiveMaxShards())
}

func TestEffectiveMaxShardsHonorsExplicitBound(t *testing.T) {
	f := commonFlags{maxShards: 12}
	assert.Equal(t, 12, f.effectiveMaxShards())
}

func TestRequestPropagatesCount(t *testing.T) {
	f := commonFlags{streamName: "orders", count: 3, minShards: 2}
	req := f.request()
	require.NotNil(t, req.Count)
	assert.Equal(t, 3, *req.Count)
	assert.Nil(t, req.Pct)
	require.NotNil(t, req.Min)
	assert.Equal(t, 2, *req.Min)
}
