package model

import "fmt"

// Phase represents a stage in an analysis run lifecycle
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseCollecting Phase = "collecting"
	PhaseProcessing Phase = "processing"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseReporting  Phase = "reporting"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// phaseRank defines the forward progression order. PhaseError sits outside
// the order and is only reachable through Fail.
var phaseRank = map[Phase]int{
	PhasePending:    0,
	PhaseCollecting: 1,
	PhaseProcessing: 2,
	PhaseAnalyzing:  3,
	PhaseReporting:  4,
	PhaseCompleted:  5,
}

// ParsePhase validates and returns a Phase from its string form
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Valid reports whether the phase is a known lifecycle phase
func (p Phase) Valid() bool {
	if p == PhaseError {
		return true
	}
	_, ok := phaseRank[p]
	return ok
}

// Terminal reports whether no further transitions are permitted
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Rank returns the position of the phase in the forward order, or -1 for
// PhaseError and unknown phases
func (p Phase) Rank() int {
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether next is a valid successor of p. Progression
// is forward-only; repeating the current phase is allowed for progress
// bumps. PhaseError is never a valid Advance target.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	cur, ok := phaseRank[p]
	if !ok {
		return false
	}
	nxt, ok := phaseRank[next]
	if !ok {
		return false
	}
	return nxt >= cur
}
