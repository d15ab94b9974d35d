package process

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianhq/meridian/internal/model"
)

// UpdateListener receives every accepted state transition. It is invoked
// synchronously under the machine lock so per-analysis ordering matches
// emission order; it must not call back into the machine.
type UpdateListener func(model.ProcessUpdate)

// Machine holds the authoritative current status of every tracked analysis.
// At most one snapshot per analysis id exists at any time; accepted
// transitions replace it, they are never queued.
type Machine struct {
	mu        sync.RWMutex
	snapshots map[string]model.ProcessUpdate
	listener  UpdateListener
}

// NewMachine creates an empty state machine
func NewMachine() *Machine {
	return &Machine{
		snapshots: make(map[string]model.ProcessUpdate),
	}
}

// Subscribe binds the update listener. Rebinding replaces the previous
// listener, so repeated calls are safe.
func (m *Machine) Subscribe(fn UpdateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Track seeds a pending snapshot for the analysis. Existing entries are
// reset to pending so a new run starts from a clean state. Track does not
// emit; only Advance and Fail broadcast.
func (m *Machine) Track(analysisID string) model.ProcessUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := model.ProcessUpdate{
		AnalysisID: analysisID,
		Phase:      model.PhasePending,
		Progress:   0,
		UpdatedAt:  time.Now().UTC(),
	}
	m.snapshots[analysisID] = snapshot
	return snapshot
}

// Advance moves the analysis to nextPhase with the given progress. It
// rejects unknown ids, terminal entries, backward transitions, and
// progress decreases within a phase; rejected calls leave the snapshot
// untouched and emit nothing.
func (m *Machine) Advance(analysisID string, nextPhase model.Phase, progress int, detail string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", model.ErrInvalidTransition, progress)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.snapshots[analysisID]
	if !exists {
		return fmt.Errorf("%w: %s", model.ErrNotFound, analysisID)
	}

	if current.Phase.Terminal() {
		return fmt.Errorf("%w: %s is %s", model.ErrTerminalState, analysisID, current.Phase)
	}

	if !current.Phase.CanAdvanceTo(nextPhase) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Phase, nextPhase)
	}

	// Progress only resets on a phase change; within a phase it is
	// monotonically non-decreasing.
	if nextPhase == current.Phase && progress < current.Progress {
		return fmt.Errorf("%w: progress %d < %d within phase %s",
			model.ErrInvalidTransition, progress, current.Progress, current.Phase)
	}

	snapshot := model.ProcessUpdate{
		AnalysisID: analysisID,
		Phase:      nextPhase,
		Progress:   progress,
		Detail:     detail,
		UpdatedAt:  time.Now().UTC(),
	}
	m.snapshots[analysisID] = snapshot
	m.emit(snapshot)

	return nil
}

// Fail transitions the analysis to the error phase with the given message.
// Failing an already terminal analysis is a no-op that emits nothing, so
// racing failure paths stay idempotent.
func (m *Machine) Fail(analysisID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.snapshots[analysisID]
	if !exists {
		return fmt.Errorf("%w: %s", model.ErrNotFound, analysisID)
	}

	if current.Phase.Terminal() {
		slog.Debug("Ignoring fail on terminal analysis",
			"analysis_id", analysisID,
			"phase", string(current.Phase),
		)
		return nil
	}

	snapshot := model.ProcessUpdate{
		AnalysisID:   analysisID,
		Phase:        model.PhaseError,
		Progress:     current.Progress,
		ErrorMessage: errorMessage,
		UpdatedAt:    time.Now().UTC(),
	}
	m.snapshots[analysisID] = snapshot
	m.emit(snapshot)

	return nil
}

// Snapshot returns the current ProcessUpdate for the analysis
func (m *Machine) Snapshot(analysisID string) (model.ProcessUpdate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, exists := m.snapshots[analysisID]
	if !exists {
		return model.ProcessUpdate{}, fmt.Errorf("%w: %s", model.ErrNotFound, analysisID)
	}
	return snapshot, nil
}

// Forget drops the entry for the analysis; no-op if absent
func (m *Machine) Forget(analysisID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, analysisID)
}

// emit must be called with the lock held
func (m *Machine) emit(update model.ProcessUpdate) {
	if m.listener == nil {
		return
	}
	m.listener(update)
}
