package api

import (
	"encoding/json"
	"time"
)

type (
	// EventType identifies a run lifecycle event
	EventType string

	// Event is published for every run lifecycle change and streamed to
	// WebSocket subscribers
	Event struct {
		Timestamp time.Time `json:"timestamp"`
		Data      any       `json:"data,omitempty"`
		Type      EventType `json:"type"`
		RunID     string    `json:"run_id"`
		NodeID    string    `json:"node_id,omitempty"`
		Status    string    `json:"status,omitempty"`
		Message   string    `json:"message,omitempty"`
	}

	// SubscribeRequest is sent by clients to subscribe to events
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// SubscribedResult acknowledges a subscription and carries the current
	// state of the subscribed run, when there is one
	SubscribedResult struct {
		Type  string          `json:"type"`
		RunID string          `json:"run_id,omitempty"`
		Data  json.RawMessage `json:"data,omitempty"`
	}

	// ClientSubscription configures which events a WebSocket client
	// receives. An empty RunID receives every run
	ClientSubscription struct {
		RunID      string      `json:"run_id,omitempty"`
		EventTypes []EventType `json:"event_types,omitempty"`
	}
)

const (
	EventTypeFlowStarted      EventType = "flow_started"
	EventTypeFlowLog          EventType = "flow_log"
	EventTypeFlowFinished     EventType = "flow_finished"
	EventTypeWorkflowStarted  EventType = "workflow_started"
	EventTypeWorkflowFinished EventType = "workflow_finished"
	EventTypeNodeStarted      EventType = "node_started"
	EventTypeNodeFinished     EventType = "node_finished"
)

// Matches reports whether the subscription accepts the event
func (s *ClientSubscription) Matches(ev *Event) bool {
	if s.RunID != "" && s.RunID != ev.RunID {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == ev.Type {
			return true
		}
	}
	return false
}
