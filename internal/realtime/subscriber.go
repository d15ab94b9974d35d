package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianhq/meridian/internal/model"
)

// ConnState is the lifecycle state of a Subscriber
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateClosed       ConnState = "closed"
)

// Connection status values reported to observers
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusUnavailable  = "unavailable"
	StatusNotFound     = "not_found"
	StatusClosed       = "closed"
)

// errAnalysisGone signals a server-reported missing analysis; retrying
// cannot change a nonexistent id, so the run loop stops.
var errAnalysisGone = errors.New("analysis gone")

// ErrSubscriberClosed is returned by Attach after Detach
var ErrSubscriberClosed = errors.New("subscriber closed")

// Event is what observers receive: exactly one of Update or Status is set
type Event struct {
	Update *model.ProcessUpdate
	Status *model.ConnectionStatus
}

// Observer is a callback-style listener for subscriber events
type Observer func(Event)

// Subscriber manages the client-side lifecycle of one logical subscription
// to one analysis id: it dials the update stream, requests the current
// snapshot on every (re)connect, and re-establishes dropped transports
// with bounded exponential backoff.
type Subscriber struct {
	baseURL string
	dialer  *websocket.Dialer
	backoff Backoff

	mu         sync.Mutex
	state      ConnState
	analysisID string
	observers  map[int]Observer
	nextObsID  int
	lastUpdate *model.ProcessUpdate
	ws         *websocket.Conn
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// NewSubscriber creates a subscriber for the given base URL, e.g.
// "ws://localhost:8080".
func NewSubscriber(baseURL string, backoff Backoff) *Subscriber {
	return &Subscriber{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		backoff:   backoff.normalized(),
		state:     StateIdle,
		observers: make(map[int]Observer),
	}
}

// State returns the current lifecycle state
func (s *Subscriber) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AnalysisID returns the id of the active subscription, if any
func (s *Subscriber) AnalysisID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysisID
}

// LastUpdate returns the most recently received ProcessUpdate. Observers
// added after an event use this to catch up; events are never replayed.
func (s *Subscriber) LastUpdate() *model.ProcessUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUpdate == nil {
		return nil
	}
	u := *s.lastUpdate
	return &u
}

// AddObserver registers a listener and returns its removal function.
// Listeners receive events emitted after registration only.
func (s *Subscriber) AddObserver(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Attach subscribes to the given analysis id. If currently attached to a
// different id, the old subscription is torn down first; a Subscriber holds
// at most one active id.
func (s *Subscriber) Attach(ctx context.Context, analysisID string) error {
	if analysisID == "" {
		return errors.New("analysis id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSubscriberClosed
	}
	cancel := s.cancel
	ws := s.ws
	s.cancel = nil
	s.ws = nil
	s.mu.Unlock()

	// Tear down any previous run loop before starting a new one
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	s.wg.Wait()

	runCtx, runCancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		runCancel()
		return ErrSubscriberClosed
	}
	s.analysisID = analysisID
	s.cancel = runCancel
	s.state = StateConnecting
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, analysisID)
	}()

	return nil
}

// Detach closes the transport, clears all observers, and moves to the
// terminal closed state. Idempotent.
func (s *Subscriber) Detach() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	ws := s.ws
	s.cancel = nil
	s.ws = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	s.wg.Wait()

	s.notifyStatus(StatusClosed, "")

	s.mu.Lock()
	s.state = StateClosed
	s.observers = make(map[int]Observer)
	s.mu.Unlock()
}

// run is the connect/read/retry loop for one attached analysis id
func (s *Subscriber) run(ctx context.Context, analysisID string) {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		s.notifyStatus(StatusConnecting, "")

		ws, resp, err := s.dialer.DialContext(ctx, s.wsURL(analysisID), nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				// Unknown analysis id: terminal, never retried
				s.setState(StateDisconnected)
				s.notifyStatus(StatusNotFound, "analysis not found")
				return
			}
			if ctx.Err() != nil {
				return
			}

			attempt++
			if s.backoff.Exhausted(attempt) {
				slog.Warn("Subscription retries exhausted",
					"analysis_id", analysisID,
					"attempts", attempt-1,
				)
				s.setState(StateDisconnected)
				s.notifyStatus(StatusUnavailable, "connection retries exhausted")
				return
			}

			delay := s.backoff.Delay(attempt)
			slog.Debug("Subscription dial failed, retrying",
				"analysis_id", analysisID,
				"attempt", attempt,
				"next_retry_ms", delay.Milliseconds(),
				"error", err.Error(),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		attempt = 0
		s.setConn(ws)
		s.setState(StateConnected)
		s.notifyStatus(StatusConnected, "")

		// Broadcasts are not replayed, so explicitly request the current
		// snapshot; late joiners must never sit on empty state.
		if env, envErr := model.NewEnvelope(model.MessageGetSnapshot, nil); envErr == nil {
			if writeErr := ws.WriteJSON(env); writeErr != nil {
				slog.Debug("Snapshot request failed",
					"analysis_id", analysisID,
					"error", writeErr.Error(),
				)
			}
		}

		readErr := s.readLoop(ws)
		s.setConn(nil)
		ws.Close()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(readErr, errAnalysisGone) {
			s.setState(StateDisconnected)
			s.notifyStatus(StatusNotFound, readErr.Error())
			return
		}

		s.setState(StateDisconnected)
		s.notifyStatus(StatusDisconnected, "")
	}
}

// readLoop decodes envelopes until the transport fails or the server
// reports the analysis gone
func (s *Subscriber) readLoop(ws *websocket.Conn) error {
	for {
		var env model.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return err
		}

		switch env.Type {
		case model.MessageProcessUpdate, model.MessageSnapshot:
			update, err := env.ProcessUpdate()
			if err != nil {
				slog.Warn("Discarding malformed update", "error", err.Error())
				continue
			}
			s.mu.Lock()
			s.lastUpdate = &update
			s.mu.Unlock()
			s.notify(Event{Update: &update})

		case model.MessageConnectionStatus:
			status, err := env.ConnectionStatus()
			if err != nil {
				slog.Warn("Discarding malformed connection status", "error", err.Error())
				continue
			}
			s.notify(Event{Status: &status})

		case model.MessageError:
			payload, err := env.ErrorPayload()
			if err != nil {
				slog.Warn("Discarding malformed error payload", "error", err.Error())
				continue
			}
			if payload.Code == model.ErrorCodeNotFound || payload.Code == model.ErrorCodeDeleted {
				return fmt.Errorf("%w: %s", errAnalysisGone, payload.Message)
			}
			slog.Warn("Server reported error",
				"code", payload.Code,
				"message", payload.Message,
			)

		default:
			slog.Debug("Ignoring unknown message type", "type", env.Type)
		}
	}
}

// notify delivers an event to the listeners registered at emit time
func (s *Subscriber) notify(event Event) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

func (s *Subscriber) notifyStatus(status, message string) {
	s.mu.Lock()
	analysisID := s.analysisID
	s.mu.Unlock()

	s.notify(Event{Status: &model.ConnectionStatus{
		Status:     status,
		AnalysisID: analysisID,
		Message:    message,
	}})
}

func (s *Subscriber) setState(state ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state = state
}

func (s *Subscriber) setConn(ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws = ws
}

func (s *Subscriber) wsURL(analysisID string) string {
	return s.baseURL + "/ws/" + analysisID
}
