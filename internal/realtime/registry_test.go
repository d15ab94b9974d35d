package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/model"
)

// fakeConn records deliveries and can be made to fail sends
type fakeConn struct {
	id       string
	received []model.Envelope
	sendErr  error
	closed   bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(env model.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, env)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func envelope(t *testing.T, update model.ProcessUpdate) model.Envelope {
	t.Helper()
	env, err := model.NewEnvelope(model.MessageProcessUpdate, update)
	require.NoError(t, err)
	return env
}

func TestRegistryBroadcastToGroup(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	r.Register("a1", c1)
	r.Register("a1", c2)

	report := r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, c1.received, 1)
	assert.Len(t, c2.received, 1)
}

func TestRegistryBroadcastIsolatedByAnalysis(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	r.Register("a1", c1)
	r.Register("a2", c2)

	r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))

	assert.Len(t, c1.received, 1)
	assert.Empty(t, c2.received)
}

func TestRegistryBroadcastNoSubscribers(t *testing.T) {
	r := NewRegistry()

	report := r.Broadcast("empty", envelope(t, model.ProcessUpdate{AnalysisID: "empty"}))

	assert.Equal(t, 0, report.Delivered)
	assert.Equal(t, 0, report.Failed)
}

func TestRegistryUnregisterStopsDelivery(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	r.Register("a1", c1)
	r.Register("a1", c2)
	r.Unregister(c1)

	report := r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))

	assert.Equal(t, 1, report.Delivered)
	assert.Empty(t, c1.received)
	assert.Len(t, c2.received, 1)
	assert.Equal(t, 1, r.GroupSize("a1"))
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}

	r.Register("a1", c1)
	r.Unregister(c1)
	r.Unregister(c1)

	assert.Equal(t, 0, r.GroupSize("a1"))
}

func TestRegistryFailedSendDropsConnection(t *testing.T) {
	r := NewRegistry()
	healthy := &fakeConn{id: "healthy"}
	broken := &fakeConn{id: "broken", sendErr: errors.New("peer gone")}

	r.Register("a1", healthy)
	r.Register("a1", broken)

	report := r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))

	// The failure never blocks delivery to the healthy connection
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, healthy.received, 1)

	// The broken connection was implicitly unregistered and closed
	assert.True(t, broken.closed)
	assert.Equal(t, 1, r.GroupSize("a1"))

	// No redelivery attempts on subsequent broadcasts
	report = r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, report.Failed)
}

func TestRegistryRegisterMovesConnection(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}

	r.Register("a1", c1)
	r.Register("a2", c1)

	assert.Equal(t, 0, r.GroupSize("a1"))
	assert.Equal(t, 1, r.GroupSize("a2"))

	r.Broadcast("a1", envelope(t, model.ProcessUpdate{AnalysisID: "a1"}))
	assert.Empty(t, c1.received)

	r.Broadcast("a2", envelope(t, model.ProcessUpdate{AnalysisID: "a2"}))
	assert.Len(t, c1.received, 1)
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	r.Register("a1", c1)
	r.Register("a1", c2)

	env, err := model.NewEnvelope(model.MessageError, model.ErrorPayload{
		Code:    model.ErrorCodeDeleted,
		Message: "analysis has been deleted",
	})
	require.NoError(t, err)

	r.Evict("a1", env)

	assert.Equal(t, 0, r.GroupSize("a1"))
	for _, c := range []*fakeConn{c1, c2} {
		assert.True(t, c.closed)
		require.Len(t, c.received, 1)
		assert.Equal(t, model.MessageError, c.received[0].Type)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	r.Register("a1", c1)
	r.Register("a2", c2)

	r.CloseAll()

	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
	assert.Equal(t, 0, r.GroupSize("a1"))
	assert.Equal(t, 0, r.GroupSize("a2"))
}
