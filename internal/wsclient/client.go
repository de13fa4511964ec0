package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ldi/casegen/internal/metrics"
	"github.com/ldi/casegen/pkg/models"
	"go.uber.org/zap"
)

const maxMessageSize = 1024 * 1024

// Off disables reconnection or the heartbeat when used for
// Options.MaxReconnectAttempts or Options.HeartbeatInterval.
const Off = -1

var (
	// ErrMaxReconnectAttempts is reported to error handlers once reconnection gives up.
	ErrMaxReconnectAttempts = errors.New("websocket reconnect attempts exhausted")
	// ErrClosed is returned by a dial that finishes after Disconnect.
	ErrClosed = errors.New("websocket client closed")
)

// ServerError is an "error" frame pushed by the backend.
type ServerError struct {
	TaskID  string
	Message string
}

func (e *ServerError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("server error for task %s: %s", e.TaskID, e.Message)
	}
	return "server error: " + e.Message
}

// TaskHandler receives task_update, initial_status and task scoped error frames.
type TaskHandler func(msg models.WSMessage)

// ErrorHandler receives server error frames and the final reconnect failure.
type ErrorHandler func(err error)

// EventType names a connection lifecycle event.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventReconnecting  EventType = "reconnecting"
	EventServerMessage EventType = "server_message"
)

// ConnectionEvent is passed to connection handlers. Attempt is set for
// reconnecting events, Message for server lifecycle frames.
type ConnectionEvent struct {
	Type    EventType
	Attempt int
	Message *models.WSMessage
}

type ConnectionHandler func(ev ConnectionEvent)

// Options configures a Client. Zero values get defaults: 5 reconnect attempts
// 3s apart and a ping every 30s. Use Off to disable either.
type Options struct {
	BaseURL              string
	Path                 string
	UserID               string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
}

func (o Options) withDefaults() Options {
	switch {
	case o.MaxReconnectAttempts == 0:
		o.MaxReconnectAttempts = 5
	case o.MaxReconnectAttempts < 0:
		o.MaxReconnectAttempts = 0
	}
	switch {
	case o.HeartbeatInterval == 0:
		o.HeartbeatInterval = 30 * time.Second
	case o.HeartbeatInterval < 0:
		o.HeartbeatInterval = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type registration[H any] struct {
	id uint64
	fn H
}

// Client keeps one shared websocket connection and fans inbound messages out to
// per-task handlers. Handlers run on the reader goroutine, in arrival order.
type Client struct {
	opts    Options
	url     string
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	conn        *websocket.Conn
	manualClose bool
	stop        chan struct{}
	heartbeat   chan struct{}
	lastPong    time.Time

	writeMu sync.Mutex

	handlersMu    sync.RWMutex
	nextID        uint64
	taskHandlers  map[string][]registration[TaskHandler]
	errorHandlers []registration[ErrorHandler]
	connHandlers  []registration[ConnectionHandler]
}

// New builds a client for the socket at opts. Nothing is dialed until Connect.
func New(opts Options, logger *zap.Logger, m *metrics.Metrics) *Client {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts: opts,
		url:  BuildURL(opts.BaseURL, opts.Path, opts.UserID),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger:       logger.With(zap.String("component", "wsclient")),
		metrics:      m,
		taskHandlers: make(map[string][]registration[TaskHandler]),
	}
}

func (c *Client) URL() string {
	return c.url
}

// Connect opens the socket. It returns once the connection is open, or the dial error.
// A reconnect loop still waiting from an earlier drop is stopped.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.manualClose = false
	if c.stop != nil {
		close(c.stop)
	}
	c.stop = make(chan struct{})
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		// Another dial won; keep the single shared connection.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	hb := make(chan struct{})
	c.heartbeat = hb
	c.mu.Unlock()

	c.logger.Info("websocket connected", zap.String("url", c.url))

	go c.readLoop(conn)
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(hb)
	}

	c.emit(ConnectionEvent{Type: EventConnected})
	c.resubscribe()
	return nil
}

// Disconnect closes the socket without triggering reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	c.logger.Info("websocket disconnected")
	c.emit(ConnectionEvent{Type: EventDisconnected})
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeat != nil {
		close(c.heartbeat)
		c.heartbeat = nil
	}
}

// Send writes msg if connected. Sending while disconnected logs a warning and returns false.
func (c *Client) Send(msg models.WSMessage) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn("websocket not connected, message not sent", zap.String("type", string(msg.Type)))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		c.logger.Warn("failed to send websocket message", zap.String("type", string(msg.Type)), zap.Error(err))
		return false
	}
	return true
}

func controlMessage(t models.WSMessageType, taskID string) models.WSMessage {
	data, _ := json.Marshal(models.TaskIDData{TaskID: taskID})
	return models.WSMessage{Type: t, Data: data}
}

// CancelTask asks the backend to cancel a running task over the socket.
func (c *Client) CancelTask(taskID string) bool {
	return c.Send(controlMessage(models.WSCancelTask, taskID))
}

func (c *Client) Ping() bool {
	return c.Send(models.WSMessage{Type: models.WSPing})
}

// SubscribeToTask registers handler for updates of taskID. Every call adds its
// own registration; the returned function removes exactly that one and is safe
// to call more than once. The subscribe/unsubscribe control messages are sent
// for the first and last registration of a task.
func (c *Client) SubscribeToTask(taskID string, handler TaskHandler) func() {
	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	first := len(c.taskHandlers[taskID]) == 0
	c.taskHandlers[taskID] = append(c.taskHandlers[taskID], registration[TaskHandler]{id: id, fn: handler})
	c.handlersMu.Unlock()

	if first && c.IsConnected() {
		c.Send(controlMessage(models.WSSubscribe, taskID))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			regs := c.taskHandlers[taskID]
			for i, r := range regs {
				if r.id == id {
					regs = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			last := len(regs) == 0
			if last {
				delete(c.taskHandlers, taskID)
			} else {
				c.taskHandlers[taskID] = regs
			}
			c.handlersMu.Unlock()

			if last && c.IsConnected() {
				c.Send(controlMessage(models.WSUnsubscribe, taskID))
			}
		})
	}
}

// HandlerCount is the number of live registrations for taskID.
func (c *Client) HandlerCount(taskID string) int {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return len(c.taskHandlers[taskID])
}

// SubscribedTasks lists the task ids with at least one handler.
func (c *Client) SubscribedTasks() []string {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	ids := make([]string, 0, len(c.taskHandlers))
	for id := range c.taskHandlers {
		ids = append(ids, id)
	}
	return ids
}

// OnError registers handler and returns a func that removes it.
func (c *Client) OnError(handler ErrorHandler) func() {
	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	c.errorHandlers = append(c.errorHandlers, registration[ErrorHandler]{id: id, fn: handler})
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.errorHandlers = removeRegistration(c.errorHandlers, id)
	}
}

// OnConnection registers handler and returns a func that removes it.
func (c *Client) OnConnection(handler ConnectionHandler) func() {
	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	c.connHandlers = append(c.connHandlers, registration[ConnectionHandler]{id: id, fn: handler})
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.connHandlers = removeRegistration(c.connHandlers, id)
	}
}

func removeRegistration[H any](regs []registration[H], id uint64) []registration[H] {
	for i, r := range regs {
		if r.id == id {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}

func (c *Client) resubscribe() {
	for _, taskID := range c.SubscribedTasks() {
		c.Send(controlMessage(models.WSSubscribe, taskID))
	}
}

func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Ping()
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already replaced or closed through Disconnect.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	manual := c.manualClose
	stop := c.stop
	c.mu.Unlock()

	conn.Close()
	c.emit(ConnectionEvent{Type: EventDisconnected})

	if manual {
		return
	}

	c.logger.Warn("websocket closed unexpectedly", zap.Error(err))
	go c.reconnectLoop(stop)
}

func (c *Client) reconnectLoop(stop <-chan struct{}) {
	max := c.opts.MaxReconnectAttempts
	var lastErr error

	for attempt := 1; attempt <= max; attempt++ {
		select {
		case <-stop:
			return
		case <-time.After(c.opts.ReconnectDelay):
		}

		c.metrics.ObserveReconnect()
		c.emit(ConnectionEvent{Type: EventReconnecting, Attempt: attempt})
		c.logger.Info("reconnecting websocket", zap.Int("attempt", attempt), zap.Int("max", max))

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		lastErr = err
		c.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	err := fmt.Errorf("%w after %d attempts", ErrMaxReconnectAttempts, max)
	if lastErr != nil {
		err = fmt.Errorf("%w after %d attempts: %v", ErrMaxReconnectAttempts, max, lastErr)
	}
	c.logger.Error("giving up on websocket reconnection", zap.Error(err))
	c.fireError(err)
}

func (c *Client) dispatch(data []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.metrics.ObserveDropped()
		c.logger.Warn("dropping malformed websocket message", zap.Error(err), zap.ByteString("data", truncate(data, 256)))
		return
	}
	c.metrics.ObserveWSMessage(string(msg.Type))

	switch msg.Type {
	case models.WSTaskUpdate, models.WSInitialStatus:
		if msg.TaskID == "" {
			msg.TaskID = taskIDFromData(msg.Data)
		}
		c.fireTask(msg)

	case models.WSPong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	case models.WSError:
		if msg.TaskID == "" {
			msg.TaskID = taskIDFromData(msg.Data)
		}
		c.fireError(&ServerError{TaskID: msg.TaskID, Message: errorMessageFromData(msg.Data)})
		if msg.TaskID != "" {
			c.fireTask(msg)
		}

	case models.WSConnectionEstablished, models.WSTaskSubscribed:
		m := msg
		c.emit(ConnectionEvent{Type: EventServerMessage, Message: &m})

	default:
		c.metrics.ObserveDropped()
		c.logger.Warn("unknown websocket message type", zap.String("type", string(msg.Type)))
	}
}

func (c *Client) fireTask(msg models.WSMessage) {
	c.handlersMu.RLock()
	regs := append([]registration[TaskHandler](nil), c.taskHandlers[msg.TaskID]...)
	c.handlersMu.RUnlock()

	if len(regs) == 0 {
		c.logger.Debug("no handlers for task message", zap.String("task_id", msg.TaskID), zap.String("type", string(msg.Type)))
		return
	}
	for _, r := range regs {
		c.safeCall(func() { r.fn(msg) })
	}
}

func (c *Client) fireError(err error) {
	c.handlersMu.RLock()
	regs := append([]registration[ErrorHandler](nil), c.errorHandlers...)
	c.handlersMu.RUnlock()

	for _, r := range regs {
		c.safeCall(func() { r.fn(err) })
	}
}

func (c *Client) emit(ev ConnectionEvent) {
	c.handlersMu.RLock()
	regs := append([]registration[ConnectionHandler](nil), c.connHandlers...)
	c.handlersMu.RUnlock()

	for _, r := range regs {
		c.safeCall(func() { r.fn(ev) })
	}
}

// safeCall keeps a misbehaving handler from killing the reader goroutine.
func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func taskIDFromData(data json.RawMessage) string {
	var v models.TaskIDData
	if len(data) == 0 || json.Unmarshal(data, &v) != nil {
		return ""
	}
	return v.TaskID
}

func errorMessageFromData(data json.RawMessage) string {
	if len(data) == 0 {
		return "unknown error"
	}
	var text string
	if json.Unmarshal(data, &text) == nil {
		return text
	}
	var v struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &v) == nil {
		if v.Message != "" {
			return v.Message
		}
		if v.Error != "" {
			return v.Error
		}
	}
	return string(data)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
