package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	phase, err := ParsePhase("collecting")
	require.NoError(t, err)
	assert.Equal(t, PhaseCollecting, phase)

	phase, err = ParsePhase("error")
	require.NoError(t, err)
	assert.Equal(t, PhaseError, phase)

	_, err = ParsePhase("finished")
	assert.Error(t, err)

	_, err = ParsePhase("")
	assert.Error(t, err)
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseCompleted.Terminal())
	assert.True(t, PhaseError.Terminal())

	for _, p := range []Phase{PhasePending, PhaseCollecting, PhaseProcessing, PhaseAnalyzing, PhaseReporting} {
		assert.False(t, p.Terminal(), "phase %s should not be terminal", p)
	}
}

func TestPhaseRank(t *testing.T) {
	assert.Equal(t, 0, PhasePending.Rank())
	assert.Equal(t, 5, PhaseCompleted.Rank())
	assert.Equal(t, -1, PhaseError.Rank())
	assert.Equal(t, -1, Phase("bogus").Rank())
}

func TestPhaseCanAdvanceTo(t *testing.T) {
	// Forward steps
	assert.True(t, PhasePending.CanAdvanceTo(PhaseCollecting))
	assert.True(t, PhaseCollecting.CanAdvanceTo(PhaseProcessing))
	assert.True(t, PhaseReporting.CanAdvanceTo(PhaseCompleted))

	// Forward jumps skip intermediate phases
	assert.True(t, PhasePending.CanAdvanceTo(PhaseAnalyzing))
	assert.True(t, PhaseCollecting.CanAdvanceTo(PhaseCompleted))

	// Repeating the current phase is allowed for progress bumps
	assert.True(t, PhaseCollecting.CanAdvanceTo(PhaseCollecting))

	// Backward is never allowed
	assert.False(t, PhaseProcessing.CanAdvanceTo(PhaseCollecting))
	assert.False(t, PhaseReporting.CanAdvanceTo(PhasePending))

	// Terminal phases have no successors
	assert.False(t, PhaseCompleted.CanAdvanceTo(PhaseCompleted))
	assert.False(t, PhaseError.CanAdvanceTo(PhaseCollecting))

	// Error is not an Advance target
	assert.False(t, PhaseCollecting.CanAdvanceTo(PhaseError))
}
