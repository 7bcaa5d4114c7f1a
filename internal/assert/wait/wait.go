package wait

import (
	"testing"
	"time"

	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/util"
)

type (
	Wait struct {
		t        *testing.T
		consumer events.Consumer
		timeout  time.Duration
	}

	EventFilter func(*api.Event) bool
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer events.Consumer) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer and returns them
func (w *Wait) ForEvents(count int, filter EventFilter) []*api.Event {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	var res []*api.Event
	for len(res) < count {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			res = append(res, ev)
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
	return res
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) *api.Event {
	return w.ForEvents(1, filter)[0]
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*api.Event) bool { return false }
	}
	lookup := util.SetOf(eventTypes...)
	return func(ev *api.Event) bool {
		return ev != nil && lookup.Contains(ev.Type)
	}
}

// RunIDs matches one event per provided run ID
func RunIDs(ids ...string) EventFilter {
	expected := util.SetOf(ids...)
	return func(ev *api.Event) bool {
		return ev != nil && expected.Remove(ev.RunID)
	}
}

// Run matches every event of one run
func Run(runID string) EventFilter {
	return func(ev *api.Event) bool {
		return ev != nil && ev.RunID == runID
	}
}

// AnyRun matches events of any run
func AnyRun() EventFilter {
	return func(ev *api.Event) bool { return ev != nil }
}

// FlowFinished matches flow finished events for the provided run IDs
func FlowFinished(ids ...string) EventFilter {
	return And(Type(api.EventTypeFlowFinished), RunIDs(ids...))
}

// WorkflowStarted matches workflow started events for the provided run IDs
func WorkflowStarted(ids ...string) EventFilter {
	return And(Type(api.EventTypeWorkflowStarted), RunIDs(ids...))
}

// WorkflowFinished matches workflow finished events for the provided run
// IDs
func WorkflowFinished(ids ...string) EventFilter {
	return And(Type(api.EventTypeWorkflowFinished), RunIDs(ids...))
}

// NodeStarted matches node started events of one run for the given node
func NodeStarted(runID, nodeID string) EventFilter {
	return And(Type(api.EventTypeNodeStarted), func(ev *api.Event) bool {
		return ev.RunID == runID && ev.NodeID == nodeID
	})
}

// NodeFinished matches node finished events of one run for the given node
func NodeFinished(runID, nodeID string) EventFilter {
	return And(Type(api.EventTypeNodeFinished), func(ev *api.Event) bool {
		return ev.RunID == runID && ev.NodeID == nodeID
	})
}
