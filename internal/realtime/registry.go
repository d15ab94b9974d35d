package realtime

import (
	"log/slog"
	"sync"

	"github.com/meridianhq/meridian/internal/model"
)

// Conn is one subscriber transport. Send must not block; implementations
// queue onto a buffered channel and report an error when the connection is
// closed or the buffer is full.
type Conn interface {
	ID() string
	Send(env model.Envelope) error
	Close() error
}

// DeliveryReport counts per-connection outcomes of one broadcast call.
// Diagnostic only; failed deliveries are not retried.
type DeliveryReport struct {
	Delivered int
	Failed    int
}

// Registry maps an analysis id to the set of live subscriber connections.
// It exclusively owns group membership; a connection belongs to at most one
// group at any instant.
type Registry struct {
	mu      sync.RWMutex
	groups  map[string]map[string]Conn // analysis id -> conn id -> conn
	members map[string]string          // conn id -> analysis id
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		groups:  make(map[string]map[string]Conn),
		members: make(map[string]string),
	}
}

// Register adds the connection to the group for analysisID. A connection
// already registered under a different id is moved: the old membership is
// removed first.
func (r *Registry) Register(analysisID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.members[conn.ID()]; ok && prev != analysisID {
		r.removeLocked(prev, conn.ID())
	}

	group, ok := r.groups[analysisID]
	if !ok {
		group = make(map[string]Conn)
		r.groups[analysisID] = group
	}
	group[conn.ID()] = conn
	r.members[conn.ID()] = analysisID

	slog.Info("Connection registered",
		"analysis_id", analysisID,
		"connection_id", conn.ID(),
		"group_size", len(group),
	)
}

// Unregister removes the connection from whatever group it belongs to.
// Safe to call multiple times and from close/error callbacks.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	analysisID, ok := r.members[conn.ID()]
	if !ok {
		return
	}
	r.removeLocked(analysisID, conn.ID())

	slog.Info("Connection unregistered",
		"analysis_id", analysisID,
		"connection_id", conn.ID(),
	)
}

// Broadcast delivers the envelope to every connection currently in the
// group. Membership is frozen at call time, so concurrent register/
// unregister calls never race the iteration. A failed send is logged,
// counted, and treated as an implicit unregister; it never aborts delivery
// to the remaining connections.
func (r *Registry) Broadcast(analysisID string, env model.Envelope) DeliveryReport {
	r.mu.RLock()
	group := r.groups[analysisID]
	conns := make([]Conn, 0, len(group))
	for _, c := range group {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var report DeliveryReport
	for _, conn := range conns {
		if err := conn.Send(env); err != nil {
			slog.Warn("Broadcast delivery failed, dropping connection",
				"analysis_id", analysisID,
				"connection_id", conn.ID(),
				"error", err.Error(),
			)
			report.Failed++
			r.Unregister(conn)
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("Failed to close broken connection",
					"connection_id", conn.ID(),
					"error", closeErr.Error(),
				)
			}
			continue
		}
		report.Delivered++
	}

	return report
}

// Evict broadcasts a final envelope to the group and closes every
// connection in it. Used when an analysis is deleted.
func (r *Registry) Evict(analysisID string, env model.Envelope) {
	r.mu.Lock()
	group := r.groups[analysisID]
	conns := make([]Conn, 0, len(group))
	for id, c := range group {
		conns = append(conns, c)
		delete(r.members, id)
	}
	delete(r.groups, analysisID)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(env); err != nil {
			slog.Debug("Failed to deliver eviction notice",
				"connection_id", conn.ID(),
				"error", err.Error(),
			)
		}
		conn.Close()
	}

	if len(conns) > 0 {
		slog.Info("Evicted subscription group",
			"analysis_id", analysisID,
			"connections", len(conns),
		)
	}
}

// GroupSize returns the number of live connections for the analysis
func (r *Registry) GroupSize(analysisID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[analysisID])
}

// ConnectionCount returns the number of live connections across all analyses
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// CloseAll closes every registered connection. Called during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.members))
	for _, group := range r.groups {
		for _, c := range group {
			conns = append(conns, c)
		}
	}
	r.groups = make(map[string]map[string]Conn)
	r.members = make(map[string]string)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	slog.Info("Closed all registered connections", "count", len(conns))
}

// removeLocked must be called with the lock held
func (r *Registry) removeLocked(analysisID, connID string) {
	if group, ok := r.groups[analysisID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(r.groups, analysisID)
		}
	}
	delete(r.members, connID)
}
