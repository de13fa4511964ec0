package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ldi/casegen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	received  chan models.WSMessage
	connected chan *websocket.Conn
	live      atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		received:  make(chan models.WSMessage, 100),
		connected: make(chan *websocket.Conn, 10),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.live.Add(1)
		defer ts.live.Add(-1)
		ts.connected <- conn
		for {
			var msg models.WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ts.received <- msg
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.connected:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func (ts *testServer) nextMessage(t *testing.T, want models.WSMessageType) models.WSMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ts.received:
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", want)
			return models.WSMessage{}
		}
	}
}

func (ts *testServer) drain() []models.WSMessage {
	var msgs []models.WSMessage
	for {
		select {
		case msg := <-ts.received:
			msgs = append(msgs, msg)
		case <-time.After(100 * time.Millisecond):
			return msgs
		}
	}
}

func newClient(ts *testServer, opts Options) *Client {
	opts.BaseURL = ts.URL
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 10 * time.Millisecond
	}
	return New(opts, nil, nil)
}

func taskIDOf(t *testing.T, msg models.WSMessage) string {
	t.Helper()
	var data models.TaskIDData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data.TaskID
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/api/v1/ws", BuildURL("http://localhost:8000/", "", ""))
	assert.Equal(t, "wss://api.example.com/api/v1/ws/u%201", BuildURL("https://api.example.com", "", "u 1"))
	assert.Equal(t, "ws://host:9/api/v1/ws/tasks/t-1", BuildURL("host:9", TaskPath("t-1"), ""))
	assert.Equal(t, "wss://x/custom", BuildURL("wss://x", "custom/", ""))
}

func TestSendBeforeConnectIsNoop(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"}, nil, nil)
	assert.False(t, c.Send(models.WSMessage{Type: models.WSPing}))
	assert.False(t, c.CancelTask("t1"))
	assert.False(t, c.IsConnected())
}

func TestConnectFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(Options{BaseURL: addr}, nil, nil)
	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}

func TestSubscribeReferenceCounting(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"}, nil, nil)
	handler := func(models.WSMessage) {}

	unsubA := c.SubscribeToTask("t1", handler)
	unsubB := c.SubscribeToTask("t1", handler)
	assert.Equal(t, 2, c.HandlerCount("t1"))

	unsubA()
	assert.Equal(t, 1, c.HandlerCount("t1"))
	unsubA()
	assert.Equal(t, 1, c.HandlerCount("t1"))

	unsubB()
	assert.Equal(t, 0, c.HandlerCount("t1"))
	assert.Empty(t, c.SubscribedTasks())
}

func TestSubscribeSendsControlMessagesOnFirstAndLast(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	ts.nextConn(t)

	unsubA := c.SubscribeToTask("t1", func(models.WSMessage) {})
	msg := ts.nextMessage(t, models.WSSubscribe)
	assert.Equal(t, "t1", taskIDOf(t, msg))

	unsubB := c.SubscribeToTask("t1", func(models.WSMessage) {})
	unsubA()
	for _, m := range ts.drain() {
		assert.NotEqual(t, models.WSSubscribe, m.Type)
		assert.NotEqual(t, models.WSUnsubscribe, m.Type)
	}

	unsubB()
	msg = ts.nextMessage(t, models.WSUnsubscribe)
	assert.Equal(t, "t1", taskIDOf(t, msg))
}

func TestDispatchRoutesByTaskInOrder(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	server := ts.nextConn(t)

	var mu sync.Mutex
	var progress []int
	done := make(chan struct{})
	c.SubscribeToTask("t1", func(msg models.WSMessage) {
		task, err := msg.TaskUpdate()
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		progress = append(progress, task.Progress)
		n := len(progress)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	var other atomic.Int32
	c.SubscribeToTask("t2", func(models.WSMessage) { other.Add(1) })

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"initial_status","task_id":"t1","data":{"status":"running","progress":10}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery","task_id":"t1"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_update","task_id":"t1","data":{"status":"running","progress":40}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_update","data":{"task_id":"t1","status":"completed","progress":100}}`)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task updates not delivered")
	}

	mu.Lock()
	assert.Equal(t, []int{10, 40, 100}, progress)
	mu.Unlock()
	assert.Equal(t, int32(0), other.Load())
	assert.True(t, c.IsConnected())
}

func TestErrorFrameAndPong(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{})

	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })
	events := make(chan ConnectionEvent, 10)
	c.OnConnection(func(ev ConnectionEvent) { events <- ev })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	server := ts.nextConn(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established","data":{"client_id":"c1"}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","task_id":"t9","data":{"message":"task not found"}}`)))

	select {
	case err := <-errs:
		var se *ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "t9", se.TaskID)
		assert.Equal(t, "task not found", se.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}

	assert.False(t, c.LastPong().IsZero())

	var sawServerMsg bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventServerMessage && ev.Message.Type == models.WSConnectionEstablished {
			sawServerMsg = true
		}
	}
	assert.True(t, sawServerMsg)
}

func TestHeartbeatSendsPing(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ts.nextMessage(t, models.WSPing)
}

func TestReconnectResubscribes(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{MaxReconnectAttempts: 3})

	var reconnecting atomic.Int32
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			reconnecting.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	first := ts.nextConn(t)

	c.SubscribeToTask("t1", func(models.WSMessage) {})
	ts.nextMessage(t, models.WSSubscribe)

	first.Close()

	ts.nextConn(t)
	msg := ts.nextMessage(t, models.WSSubscribe)
	assert.Equal(t, "t1", taskIDOf(t, msg))
	assert.Equal(t, int32(1), reconnecting.Load())
	require.Eventually(t, c.IsConnected, time.Second, 10*time.Millisecond)
}

func TestReconnectStopsAtMaxAndReportsOnce(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{MaxReconnectAttempts: 3})

	var errCount, attempts atomic.Int32
	var lastErr atomic.Value
	c.OnError(func(err error) {
		errCount.Add(1)
		lastErr.Store(err)
	})
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			attempts.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	server := ts.nextConn(t)

	ts.Close()
	server.Close()

	require.Eventually(t, func() bool { return errCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), errCount.Load())
	assert.Equal(t, int32(3), attempts.Load())
	assert.ErrorIs(t, lastErr.Load().(error), ErrMaxReconnectAttempts)
	assert.False(t, c.IsConnected())
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{MaxReconnectAttempts: 3})

	var attempts atomic.Int32
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			attempts.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	ts.nextConn(t)

	c.Disconnect()
	time.Sleep(100 * time.Millisecond)

	assert.False(t, c.IsConnected())
	assert.Equal(t, int32(0), attempts.Load())
	assert.False(t, c.Send(models.WSMessage{Type: models.WSPing}))
}

func TestHandlerPanicDoesNotStopReader(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	server := ts.nextConn(t)

	got := make(chan struct{}, 1)
	calls := 0
	c.SubscribeToTask("t1", func(models.WSMessage) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		got <- struct{}{}
	})

	server.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_update","task_id":"t1","data":{"progress":1}}`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_update","task_id":"t1","data":{"progress":2}}`))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("reader stopped after handler panic")
	}
}

func TestZeroOptionsReconnectFiveTimes(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{})

	var errCount, attempts atomic.Int32
	c.OnError(func(error) { errCount.Add(1) })
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			attempts.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	server := ts.nextConn(t)

	ts.Close()
	server.Close()

	require.Eventually(t, func() bool { return errCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(5), attempts.Load())
	assert.Equal(t, int32(1), errCount.Load())
}

func TestOffDisablesReconnect(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{MaxReconnectAttempts: Off, HeartbeatInterval: Off})
	assert.Equal(t, 0, c.opts.MaxReconnectAttempts)
	assert.Equal(t, time.Duration(0), c.opts.HeartbeatInterval)

	var errCount, attempts atomic.Int32
	c.OnError(func(error) { errCount.Add(1) })
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			attempts.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	ts.nextConn(t).Close()

	require.Eventually(t, func() bool { return errCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(0), attempts.Load())
	assert.False(t, c.IsConnected())
	assert.Empty(t, ts.connected)
}

func TestConnectDuringPendingReconnectKeepsOneSocket(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts, Options{MaxReconnectAttempts: 3, ReconnectDelay: 200 * time.Millisecond})

	var attempts atomic.Int32
	c.OnConnection(func(ev ConnectionEvent) {
		if ev.Type == EventReconnecting {
			attempts.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	ts.nextConn(t).Close()
	require.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 5*time.Millisecond)

	// The reconnect loop is still sleeping out its delay.
	require.NoError(t, c.Connect(context.Background()))
	ts.nextConn(t)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), ts.live.Load())
	assert.Equal(t, int32(0), attempts.Load())
	assert.Empty(t, ts.connected)
	assert.True(t, c.IsConnected())

	c.Disconnect()
	require.Eventually(t, func() bool { return ts.live.Load() == 0 }, time.Second, 10*time.Millisecond)
}
