package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/model"
)

// testBackoff keeps reconnect tests fast
func testBackoff() Backoff {
	return Backoff{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	}
}

// wsTestServer is a minimal analysis update endpoint: it upgrades /ws/{id},
// pushes an initial connection status, answers snapshot requests, and relays
// envelopes queued on push.
type wsTestServer struct {
	*httptest.Server
	push     chan model.Envelope
	known    map[string]model.ProcessUpdate
	dropNext atomic.Bool
}

func newWSTestServer(t *testing.T, known map[string]model.ProcessUpdate) *wsTestServer {
	t.Helper()

	s := &wsTestServer{
		push:  make(chan model.Envelope, 16),
		known: known,
	}

	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ws/")
		current, ok := s.known[id]
		if !ok {
			http.Error(w, "analysis not found", http.StatusNotFound)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		statusEnv, _ := model.NewEnvelope(model.MessageConnectionStatus, model.ConnectionStatus{
			Status:     "connected",
			AnalysisID: id,
		})
		if err := ws.WriteJSON(statusEnv); err != nil {
			return
		}

		if s.dropNext.CompareAndSwap(true, false) {
			return
		}

		inbound := make(chan model.Envelope)
		go func() {
			defer close(inbound)
			for {
				var env model.Envelope
				if err := ws.ReadJSON(&env); err != nil {
					return
				}
				inbound <- env
			}
		}()

		for {
			select {
			case env, open := <-inbound:
				if !open {
					return
				}
				if env.Type == model.MessageGetSnapshot {
					snap, _ := model.NewEnvelope(model.MessageSnapshot, current)
					if err := ws.WriteJSON(snap); err != nil {
						return
					}
				}
			case env := <-s.push:
				if err := ws.WriteJSON(env); err != nil {
					return
				}
			}
		}
	}))

	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) wsBase() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// collectEvents buffers observer events on a channel for assertion
func collectEvents(sub *Subscriber) <-chan Event {
	events := make(chan Event, 64)
	sub.AddObserver(func(e Event) {
		events <- e
	})
	return events
}

// waitStatus reads events until one matches the wanted status
func waitStatus(t *testing.T, events <-chan Event, want string) model.ConnectionStatus {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Status != nil && e.Status.Status == want {
				return *e.Status
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

// waitUpdate reads events until a ProcessUpdate arrives
func waitUpdate(t *testing.T, events <-chan Event) model.ProcessUpdate {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Update != nil {
				return *e.Update
			}
		case <-deadline:
			t.Fatal("timed out waiting for process update")
		}
	}
}

func TestSubscriberConnectAndSnapshot(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhaseAnalyzing, Progress: 70},
	})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))

	waitStatus(t, events, StatusConnected)

	// The snapshot requested on connect arrives as an update event
	update := waitUpdate(t, events)
	assert.Equal(t, "a1", update.AnalysisID)
	assert.Equal(t, model.PhaseAnalyzing, update.Phase)
	assert.Equal(t, 70, update.Progress)

	last := sub.LastUpdate()
	require.NotNil(t, last)
	assert.Equal(t, model.PhaseAnalyzing, last.Phase)

	assert.Equal(t, StateConnected, sub.State())
	assert.Equal(t, "a1", sub.AnalysisID())
}

func TestSubscriberReceivesPushedUpdates(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhasePending, Progress: 0},
	})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))
	waitStatus(t, events, StatusConnected)
	waitUpdate(t, events) // snapshot

	pushed, err := model.NewEnvelope(model.MessageProcessUpdate, model.ProcessUpdate{
		AnalysisID: "a1", Phase: model.PhaseCollecting, Progress: 10,
	})
	require.NoError(t, err)
	server.push <- pushed

	update := waitUpdate(t, events)
	assert.Equal(t, model.PhaseCollecting, update.Phase)
	assert.Equal(t, 10, update.Progress)
}

func TestSubscriberNotFoundIsTerminal(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "missing"))

	status := waitStatus(t, events, StatusNotFound)
	assert.Equal(t, "missing", status.AnalysisID)

	// Terminal: no reconnect attempts follow
	select {
	case e := <-events:
		if e.Status != nil {
			assert.NotEqual(t, StatusConnecting, e.Status.Status)
		}
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, sub.State())
}

func TestSubscriberRetriesUntilExhausted(t *testing.T) {
	// A server that is immediately closed guarantees dial failures
	server := httptest.NewServer(http.NotFoundHandler())
	base := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	sub := NewSubscriber(base, testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))

	status := waitStatus(t, events, StatusUnavailable)
	assert.Equal(t, "connection retries exhausted", status.Message)
	assert.Equal(t, StateDisconnected, sub.State())
}

func TestSubscriberReconnectsAfterDrop(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhaseProcessing, Progress: 40},
	})
	server.dropNext.Store(true)

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))

	// First connection is dropped by the server right after the greeting
	waitStatus(t, events, StatusConnected)
	waitStatus(t, events, StatusDisconnected)

	// The subscriber reconnects on its own and re-requests the snapshot
	waitStatus(t, events, StatusConnected)
	update := waitUpdate(t, events)
	assert.Equal(t, model.PhaseProcessing, update.Phase)
}

func TestSubscriberStopsOnDeletedAnalysis(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhaseCollecting, Progress: 10},
	})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))
	waitStatus(t, events, StatusConnected)

	gone, err := model.NewEnvelope(model.MessageError, model.ErrorPayload{
		Code:    model.ErrorCodeDeleted,
		Message: "analysis has been deleted",
	})
	require.NoError(t, err)
	server.push <- gone

	waitStatus(t, events, StatusNotFound)
	assert.Equal(t, StateDisconnected, sub.State())
}

func TestSubscriberDetach(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhasePending, Progress: 0},
	})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))
	waitStatus(t, events, StatusConnected)

	sub.Detach()
	assert.Equal(t, StateClosed, sub.State())

	// Detach is idempotent and Attach is refused afterwards
	sub.Detach()
	assert.ErrorIs(t, sub.Attach(context.Background(), "a1"), ErrSubscriberClosed)
}

func TestSubscriberAttachReplacesSubscription(t *testing.T) {
	server := newWSTestServer(t, map[string]model.ProcessUpdate{
		"a1": {AnalysisID: "a1", Phase: model.PhasePending, Progress: 0},
		"a2": {AnalysisID: "a2", Phase: model.PhaseReporting, Progress: 90},
	})

	sub := NewSubscriber(server.wsBase(), testBackoff())
	defer sub.Detach()
	events := collectEvents(sub)

	require.NoError(t, sub.Attach(context.Background(), "a1"))
	waitStatus(t, events, StatusConnected)

	require.NoError(t, sub.Attach(context.Background(), "a2"))
	assert.Equal(t, "a2", sub.AnalysisID())

	// Wait for the new subscription's snapshot
	deadline := time.After(3 * time.Second)
	for {
		var update model.ProcessUpdate
		select {
		case e := <-events:
			if e.Update == nil {
				continue
			}
			update = *e.Update
		case <-deadline:
			t.Fatal("timed out waiting for a2 snapshot")
		}
		if update.AnalysisID == "a2" {
			assert.Equal(t, model.PhaseReporting, update.Phase)
			return
		}
	}
}
