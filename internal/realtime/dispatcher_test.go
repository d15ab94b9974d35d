package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/process"
)

func TestDispatcherFansOutMachineUpdates(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry)
	machine := process.NewMachine()
	dispatcher.Bind(machine)

	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	other := &fakeConn{id: "other"}
	registry.Register("a1", c1)
	registry.Register("a1", c2)
	registry.Register("a2", other)

	machine.Track("a1")
	require.NoError(t, machine.Advance("a1", model.PhaseCollecting, 10, "fetching sources"))

	require.Len(t, c1.received, 1)
	require.Len(t, c2.received, 1)
	assert.Empty(t, other.received)

	assert.Equal(t, model.MessageProcessUpdate, c1.received[0].Type)
	update, err := c1.received[0].ProcessUpdate()
	require.NoError(t, err)
	assert.Equal(t, "a1", update.AnalysisID)
	assert.Equal(t, model.PhaseCollecting, update.Phase)
	assert.Equal(t, 10, update.Progress)
	assert.Equal(t, "fetching sources", update.Detail)
}

func TestDispatcherDeliversFailuresAsUpdates(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry)
	machine := process.NewMachine()
	dispatcher.Bind(machine)

	c1 := &fakeConn{id: "c1"}
	registry.Register("a1", c1)

	machine.Track("a1")
	require.NoError(t, machine.Fail("a1", "source exploded"))

	require.Len(t, c1.received, 1)
	update, err := c1.received[0].ProcessUpdate()
	require.NoError(t, err)
	assert.Equal(t, model.PhaseError, update.Phase)
	assert.Equal(t, "source exploded", update.ErrorMessage)
}

func TestDispatcherOrderingPerAnalysis(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry)
	machine := process.NewMachine()
	dispatcher.Bind(machine)

	c1 := &fakeConn{id: "c1"}
	registry.Register("a1", c1)

	machine.Track("a1")
	require.NoError(t, machine.Advance("a1", model.PhaseCollecting, 10, ""))
	require.NoError(t, machine.Advance("a1", model.PhaseProcessing, 40, ""))
	require.NoError(t, machine.Advance("a1", model.PhaseCompleted, 100, ""))

	require.Len(t, c1.received, 3)

	phases := make([]model.Phase, 0, 3)
	for _, env := range c1.received {
		update, err := env.ProcessUpdate()
		require.NoError(t, err)
		phases = append(phases, update.Phase)
	}
	assert.Equal(t, []model.Phase{model.PhaseCollecting, model.PhaseProcessing, model.PhaseCompleted}, phases)
}
