package events

import "github.com/kode4food/marionette/pkg/api"

type EventFilter func(*api.Event) bool

func FilterEvents(eventTypes ...api.EventType) EventFilter {
	lookup := map[api.EventType]bool{}
	for _, et := range eventTypes {
		lookup[et] = true
	}
	return func(ev *api.Event) bool {
		return lookup[ev.Type]
	}
}

func FilterRun(runID string) EventFilter {
	return func(ev *api.Event) bool {
		return ev.RunID == runID
	}
}

func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

func OrFilters(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if filter(ev) {
				return true
			}
		}
		return false
	}
}

// BuildFilter creates a filter from a client subscription. An empty
// subscription accepts every event
func BuildFilter(sub *api.ClientSubscription) EventFilter {
	var filters []EventFilter
	if sub.RunID != "" {
		filters = append(filters, FilterRun(sub.RunID))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, FilterEvents(sub.EventTypes...))
	}
	return AndFilters(filters...)
}
