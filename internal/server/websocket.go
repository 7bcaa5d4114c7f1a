package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		conn      *websocket.Conn
		consumer  events.Consumer
		filter    events.EventFilter
		getState  StateFunc
		onClose   func(*Client)
		closeOnce sync.Once
	}

	// StateFunc retrieves the current state of a run. A nil state with a nil
	// error means the run has no record yet
	StateFunc func(ctx context.Context, runID string) (any, error)
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	subscribeType  = "subscribe"
	subscribedType = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and starts
// streaming run events based on client subscriptions. Until a client
// subscribes it receives nothing
func HandleWebSocket(
	hub *events.Hub, w http.ResponseWriter, r *http.Request, st StateFunc,
) *Client {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return nil
	}

	return &Client{
		conn:     conn,
		consumer: hub.NewConsumer(),
		filter:   func(*api.Event) bool { return false },
		getState: st,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	client := HandleWebSocket(s.hub, c.Writer, c.Request, s.runState)
	if client == nil {
		return
	}
	client.onClose = s.unregisterWebSocket
	s.registerWebSocket(client)
	go client.run()
}

func (s *Server) runState(ctx context.Context, runID string) (any, error) {
	detail, err := s.engine.GetWorkflowRun(ctx, runID)
	if err == nil {
		return detail, nil
	}
	if !errors.Is(err, store.ErrWorkflowRunNotFound) {
		return nil, err
	}

	run, err := s.engine.GetFlowRun(ctx, runID)
	if err == nil {
		return run, nil
	}
	if errors.Is(err, store.ErrFlowRunNotFound) {
		return nil, nil
	}
	return nil, err
}

// Close terminates the connection and releases its event consumer
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.consumer.Close()
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

func (c *Client) run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	if sub.Type != subscribeType {
		return
	}

	c.filter = events.BuildFilter(&sub.Data)
	c.sendSubscribed(sub.Data.RunID)
}

func (c *Client) sendSubscribed(runID string) {
	msg := api.SubscribedResult{
		Type:  subscribedType,
		RunID: runID,
	}

	if runID != "" && c.getState != nil {
		state, err := c.getState(context.Background(), runID)
		if err != nil {
			slog.Error("Failed to get state for subscription",
				log.RunID(runID),
				log.Error(err))
		} else if state != nil {
			data, err := json.Marshal(state)
			if err != nil {
				slog.Error("Failed to marshal state",
					log.RunID(runID),
					log.Error(err))
			}
			msg.Data = data
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", subscribedType),
			log.Error(err))
	}
}

func (c *Client) sendEventIfMatched(event *api.Event) bool {
	if !c.filter(event) {
		return true
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(event); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
