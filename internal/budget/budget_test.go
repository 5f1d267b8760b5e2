package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeFindsUsableDescriptors(t *testing.T) {
	result, err := Probe(16)
	require.NoError(t, err)
	assert.Greater(t, result.Usable, 0)
	assert.GreaterOrEqual(t, result.HighestFD, 0)
}

func TestMaxSafeFDsAppliesReservedFDs(t *testing.T) {
	result := ProbeResult{Usable: 100, AlreadyOpen: 0, HighestFD: 99}
	maxSafe, err := MaxSafeFDs(result, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100-NumReservedFDs, maxSafe)
}

func TestMaxSafeFDsRespectsConfiguredCeiling(t *testing.T) {
	result := ProbeResult{Usable: 100, AlreadyOpen: 10, HighestFD: 109}
	maxSafe, err := MaxSafeFDs(result, 50)
	require.NoError(t, err)
	// limit = 50 - 10 = 40, usable capped to 40, minus 10 reserved = 30.
	assert.Equal(t, 30, maxSafe)
}

func TestMaxSafeFDsFailsBelowMinFree(t *testing.T) {
	result := ProbeResult{Usable: 15, AlreadyOpen: 0, HighestFD: 14}
	_, err := MaxSafeFDs(result, 1000)
	require.Error(t, err)
}

func TestSetMaxSafeFDsEndToEnd(t *testing.T) {
	maxSafe, err := SetMaxSafeFDs(64, 32)
	require.NoError(t, err)
	assert.Greater(t, maxSafe, 0)
}
