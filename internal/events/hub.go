package events

import (
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/marionette/pkg/api"
)

type (
	// Publisher accepts run lifecycle events
	Publisher interface {
		Publish(ev *api.Event)
	}

	// Hub fans run events out to any number of consumers
	Hub struct {
		topic  topic.Topic[*api.Event]
		prod   topic.Producer[*api.Event]
		closed bool
		mu     sync.RWMutex
	}

	// Consumer receives events published after it was created
	Consumer = topic.Consumer[*api.Event]

	discard struct{}
)

// Discard is a Publisher that drops every event
var Discard Publisher = discard{}

var _ Publisher = (*Hub)(nil)

// NewHub creates an event hub backed by an in-process topic
func NewHub() *Hub {
	t := caravan.NewTopic[*api.Event]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Publish stamps the event and sends it to every consumer. Publishing to a
// closed hub is a no-op
func (h *Hub) Publish(ev *api.Event) {
	if ev == nil || ev.Type == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	message.Send(h.prod, ev)
}

// NewConsumer subscribes to the hub
func (h *Hub) NewConsumer() Consumer {
	return h.topic.NewConsumer()
}

// Close stops publishing
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.prod.Close()
}

func (discard) Publish(*api.Event) {}
