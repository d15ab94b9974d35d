package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/process"
	"github.com/meridianhq/meridian/internal/realtime"
	"github.com/meridianhq/meridian/internal/service"
)

// wsFixture serves the real subscribe handler over httptest. Analyses are
// seeded through the state machine, so the repository fallback is never hit.
type wsFixture struct {
	machine  *process.Machine
	registry *realtime.Registry
	server   *httptest.Server
}

func newWSFixture(t *testing.T, opts realtime.ConnOptions) *wsFixture {
	t.Helper()

	machine := process.NewMachine()
	registry := realtime.NewRegistry()
	realtime.NewDispatcher(registry).Bind(machine)

	svc := service.NewAnalysisService(nil, nil, machine, registry, nil)
	h := NewWSHandler(svc, registry, opts)

	server := httptest.NewServer(http.HandlerFunc(h.Subscribe))
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
	})

	return &wsFixture{
		machine:  machine,
		registry: registry,
		server:   server,
	}
}

func testWSOptions() realtime.ConnOptions {
	return realtime.ConnOptions{
		WriteWait:  time.Second,
		PongWait:   time.Second,
		SendBuffer: 8,
		ReadLimit:  4096,
	}
}

func (f *wsFixture) dial(t *testing.T, analysisID string) *websocket.Conn {
	t.Helper()

	client, _, err := websocket.DefaultDialer.Dial(f.wsURL(analysisID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func (f *wsFixture) wsURL(analysisID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + analysisID
}

// readEnvelope reads the next envelope with a deadline so a missing message
// fails the test instead of hanging it
func readEnvelope(t *testing.T, client *websocket.Conn) model.Envelope {
	t.Helper()

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env model.Envelope
	require.NoError(t, client.ReadJSON(&env))
	return env
}

func TestSubscribeUnknownAnalysisRejectedBeforeUpgrade(t *testing.T) {
	f := newWSFixture(t, testWSOptions())

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscribeMissingAnalysisID(t *testing.T) {
	f := newWSFixture(t, testWSOptions())

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeGreetingAndSnapshot(t *testing.T) {
	f := newWSFixture(t, testWSOptions())
	f.machine.Track("a1")
	require.NoError(t, f.machine.Advance("a1", model.PhaseCollecting, 10, "fetching sources"))

	client := f.dial(t, "a1")

	greeting := readEnvelope(t, client)
	require.Equal(t, model.MessageConnectionStatus, greeting.Type)
	status, err := greeting.ConnectionStatus()
	require.NoError(t, err)
	assert.Equal(t, "connected", status.Status)
	assert.Equal(t, "a1", status.AnalysisID)

	require.NoError(t, client.WriteJSON(model.Envelope{Type: model.MessageGetSnapshot}))

	env := readEnvelope(t, client)
	require.Equal(t, model.MessageSnapshot, env.Type)
	snapshot, err := env.ProcessUpdate()
	require.NoError(t, err)
	assert.Equal(t, "a1", snapshot.AnalysisID)
	assert.Equal(t, model.PhaseCollecting, snapshot.Phase)
	assert.Equal(t, 10, snapshot.Progress)
	assert.Equal(t, "fetching sources", snapshot.Detail)
}

func TestSubscribeReceivesBroadcasts(t *testing.T) {
	f := newWSFixture(t, testWSOptions())
	f.machine.Track("a1")

	client := f.dial(t, "a1")

	greeting := readEnvelope(t, client)
	require.Equal(t, model.MessageConnectionStatus, greeting.Type)

	require.NoError(t, f.machine.Advance("a1", model.PhaseProcessing, 40, "normalizing documents"))

	env := readEnvelope(t, client)
	require.Equal(t, model.MessageProcessUpdate, env.Type)
	update, err := env.ProcessUpdate()
	require.NoError(t, err)
	assert.Equal(t, model.PhaseProcessing, update.Phase)
	assert.Equal(t, 40, update.Progress)
}

func TestSubscribeDeadPeerDroppedWithoutStallingOthers(t *testing.T) {
	f := newWSFixture(t, testWSOptions())
	f.machine.Track("a1")
	require.NoError(t, f.machine.Advance("a1", model.PhaseCollecting, 10, ""))

	healthy := f.dial(t, "a1")
	stalled := f.dial(t, "a1")

	require.Equal(t, model.MessageConnectionStatus, readEnvelope(t, healthy).Type)
	require.Equal(t, model.MessageConnectionStatus, readEnvelope(t, stalled).Type)
	require.Equal(t, 2, f.registry.GroupSize("a1"))

	// Drain the healthy side concurrently so its queue never backs up
	received := make(chan model.ProcessUpdate, 128)
	go func() {
		for {
			healthy.SetReadDeadline(time.Now().Add(3 * time.Second))
			var env model.Envelope
			if err := healthy.ReadJSON(&env); err != nil {
				return
			}
			if env.Type != model.MessageProcessUpdate {
				continue
			}
			if update, err := env.ProcessUpdate(); err == nil {
				received <- update
			}
		}
	}()

	// Kill the stalled peer's transport; its write pump fails on the next
	// delivery and subsequent broadcasts drop it from the group
	require.NoError(t, stalled.UnderlyingConn().Close())

	progress := 11
	deadline := time.Now().Add(3 * time.Second)
	for f.registry.GroupSize("a1") > 1 {
		require.True(t, time.Now().Before(deadline), "dead peer was never dropped")
		require.Less(t, progress, 100)
		require.NoError(t, f.machine.Advance("a1", model.PhaseCollecting, progress, ""))
		progress++
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 1, f.registry.GroupSize("a1"))

	// Broadcasts keep flowing to the surviving connection
	require.NoError(t, f.machine.Advance("a1", model.PhaseProcessing, 40, ""))
	waitFor := time.After(3 * time.Second)
	for {
		select {
		case update := <-received:
			if update.Phase == model.PhaseProcessing && update.Progress == 40 {
				return
			}
		case <-waitFor:
			t.Fatal("healthy connection stopped receiving broadcasts")
		}
	}
}
