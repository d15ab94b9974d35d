package realtime

import (
	"log/slog"

	"github.com/meridianhq/meridian/internal/model"
	"github.com/meridianhq/meridian/internal/process"
)

// Dispatcher glues state machine events to registry delivery. It holds no
// state beyond the registry reference; Bind may be called again after a
// restart without side effects.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Bind subscribes the dispatcher to the machine's update events
func (d *Dispatcher) Bind(machine *process.Machine) {
	machine.Subscribe(d.HandleUpdate)
}

// HandleUpdate fans one state machine event out to every subscriber of the
// analysis. Delivery problems are already isolated per connection inside
// Broadcast; nothing propagates back to the job driver.
func (d *Dispatcher) HandleUpdate(update model.ProcessUpdate) {
	env, err := model.NewEnvelope(model.MessageProcessUpdate, update)
	if err != nil {
		slog.Error("Failed to encode process update",
			"analysis_id", update.AnalysisID,
			"error", err.Error(),
		)
		return
	}

	report := d.registry.Broadcast(update.AnalysisID, env)

	slog.Debug("Dispatched process update",
		"analysis_id", update.AnalysisID,
		"phase", string(update.Phase),
		"progress", update.Progress,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
}
