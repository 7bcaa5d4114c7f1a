package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/pkg/api"
)

type testWebSocketEnv struct {
	*testServerEnv
	HTTP *httptest.Server
	Conn *websocket.Conn
}

const wsReadTimeout = 500 * time.Millisecond

func (e *testWebSocketEnv) Cleanup() {
	if e.Conn != nil {
		_ = e.Conn.Close()
	}
	e.Server.CloseWebSockets()
	e.HTTP.Close()
	e.testServerEnv.Cleanup()
}

func TestSocketSilentUntilSubscribed(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	_, err := env.Engine.RunFlow(context.Background(), &api.RunFlowRequest{
		Steps: passingSteps,
	})
	require.NoError(t, err)

	_ = env.Conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = env.Conn.ReadMessage()
	assert.Error(t, err)
}

func TestSocketStreamsSubscribedRun(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	subscribe(t, env.Conn, api.ClientSubscription{
		EventTypes: []api.EventType{api.EventTypeFlowFinished},
	})

	res, err := env.Engine.RunFlow(context.Background(), &api.RunFlowRequest{
		Steps: passingSteps,
	})
	require.NoError(t, err)

	ev := readEvent(t, env.Conn)
	assert.Equal(t, api.EventTypeFlowFinished, ev.Type)
	assert.Equal(t, res.RunID, ev.RunID)
	assert.Equal(t, string(api.StatusPassed), ev.Status)
}

func TestSocketSubscribeSendsRunState(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	res, err := env.Engine.RunFlow(context.Background(), &api.RunFlowRequest{
		Steps: passingSteps,
	})
	require.NoError(t, err)

	ack := subscribe(t, env.Conn, api.ClientSubscription{RunID: res.RunID})
	assert.Equal(t, res.RunID, ack.RunID)

	var run api.FlowRun
	require.NoError(t, json.Unmarshal(ack.Data, &run))
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, api.StatusPassed, run.Status)

	ack = subscribe(t, env.Conn, api.ClientSubscription{RunID: "unknown"})
	assert.Equal(t, "unknown", ack.RunID)
	assert.Empty(t, ack.Data)
}

func TestSocketFiltersOtherRuns(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	subscribe(t, env.Conn, api.ClientSubscription{RunID: "someone-else"})

	_, err := env.Engine.RunFlow(context.Background(), &api.RunFlowRequest{
		Steps: passingSteps,
	})
	require.NoError(t, err)

	_ = env.Conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = env.Conn.ReadMessage()
	assert.Error(t, err)
}

func TestSocketIgnoresInvalidMessages(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	err := env.Conn.WriteMessage(websocket.TextMessage, []byte("invalid json"))
	require.NoError(t, err)
	err = env.Conn.WriteJSON(api.SubscribeRequest{Type: "unsubscribe"})
	require.NoError(t, err)

	ack := subscribe(t, env.Conn, api.ClientSubscription{})
	assert.Equal(t, "subscribed", ack.Type)
}

func TestCloseWebSockets(t *testing.T) {
	env := testWebSocket(t)
	defer env.Cleanup()

	subscribe(t, env.Conn, api.ClientSubscription{})
	env.Server.CloseWebSockets()

	_ = env.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, _, err := env.Conn.ReadMessage()
	assert.Error(t, err)
}

func testWebSocket(t *testing.T) *testWebSocketEnv {
	t.Helper()
	srv := testServer(t)
	httpSrv := httptest.NewServer(srv.Server.SetupRoutes())

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/engine/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return &testWebSocketEnv{
		testServerEnv: srv,
		HTTP:          httpSrv,
		Conn:          conn,
	}
}

func subscribe(
	t *testing.T, conn *websocket.Conn, sub api.ClientSubscription,
) *api.SubscribedResult {
	t.Helper()
	require.NoError(t, conn.WriteJSON(api.SubscribeRequest{
		Type: "subscribe",
		Data: sub,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var res api.SubscribedResult
	require.NoError(t, conn.ReadJSON(&res))
	require.Equal(t, "subscribed", res.Type)
	return &res
}

func readEvent(t *testing.T, conn *websocket.Conn) *api.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	var ev api.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return &ev
}
