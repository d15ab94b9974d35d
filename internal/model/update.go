package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types carried by the websocket envelope
const (
	MessageProcessUpdate    = "process_update"
	MessageConnectionStatus = "connection_status"
	MessageSnapshot         = "snapshot"
	MessageError            = "error"
	MessageGetSnapshot      = "get_snapshot"
)

// Error codes carried by error envelopes
const (
	ErrorCodeNotFound = "not_found"
	ErrorCodeDeleted  = "analysis_deleted"
	ErrorCodeInternal = "internal"
)

// ProcessUpdate describes a phase/progress change for one analysis.
// ErrorMessage is set if and only if Phase is PhaseError.
type ProcessUpdate struct {
	AnalysisID   string    `json:"analysis_id" bson:"analysis_id"`
	Phase        Phase     `json:"phase" bson:"phase"`
	Progress     int       `json:"progress" bson:"progress"` // 0-100
	Detail       string    `json:"detail,omitempty" bson:"detail,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// ConnectionStatus is the informational message a subscription manager
// reports to its observers about the transport, distinct from ProcessUpdate.
type ConnectionStatus struct {
	Status     string `json:"status"` // "connecting", "connected", "disconnected", "unavailable", "not_found", "closed"
	AnalysisID string `json:"analysis_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ErrorPayload is the data section of an error envelope
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the single wire shape for every pushed message
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload under the given message type
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Data: data}, nil
}

// ProcessUpdate decodes the data section as a ProcessUpdate
func (e Envelope) ProcessUpdate() (ProcessUpdate, error) {
	var u ProcessUpdate
	if err := json.Unmarshal(e.Data, &u); err != nil {
		return ProcessUpdate{}, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return u, nil
}

// ConnectionStatus decodes the data section as a ConnectionStatus
func (e Envelope) ConnectionStatus() (ConnectionStatus, error) {
	var cs ConnectionStatus
	if err := json.Unmarshal(e.Data, &cs); err != nil {
		return ConnectionStatus{}, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return cs, nil
}

// ErrorPayload decodes the data section as an ErrorPayload
func (e Envelope) ErrorPayload() (ErrorPayload, error) {
	var ep ErrorPayload
	if err := json.Unmarshal(e.Data, &ep); err != nil {
		return ErrorPayload{}, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return ep, nil
}
