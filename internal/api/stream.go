package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/enrich"
	"github.com/phrazzld/prism-api/internal/events"
	"github.com/phrazzld/prism-api/internal/task"
)

// Stream message sources
const (
	SourceCoordinator = "coordinator"
	SourceQueue       = "queue"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// StreamMessage is one event as sent to websocket clients.
type StreamMessage struct {
	Source string      `json:"source"`
	Event  interface{} `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan StreamMessage
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// EventStream fans coordinator and queue events out to websocket clients.
// A client that falls behind by more than its buffer loses events rather
// than stalling the publishers.
type EventStream struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewEventStream creates an EventStream with no subscriptions.
func NewEventStream(logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStream{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "event_stream"),
		clients: make(map[*client]struct{}),
	}
}

// Watch subscribes the stream to a coordinator and a queue, either of which
// may be nil. The returned function removes the subscriptions.
func (s *EventStream) Watch(c *coordinator.Coordinator, q *task.Queue) (stop func()) {
	var stops []func()
	if c != nil {
		stops = append(stops, c.Subscribe(events.Listener(func(e coordinator.Event) {
			s.Broadcast(StreamMessage{Source: SourceCoordinator, Event: e})
		})))
	}
	if q != nil {
		stops = append(stops, q.Subscribe(events.Listener(func(e task.Event) {
			// Raw worker output never leaves the process.
			e.Task.Result = nil
			e.Error = enrich.Strip(e.Error)
			s.Broadcast(StreamMessage{Source: SourceQueue, Event: e})
		})))
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the stream is closed.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan StreamMessage, clientBuffer)}
	if !s.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *EventStream) add(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.logger.Info("websocket client connected", "clients", len(s.clients))
	return true
}

func (s *EventStream) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.close()
	if ok {
		s.logger.Info("websocket client disconnected", "clients", n)
	}
}

// readLoop discards client messages and returns when the connection fails.
func (s *EventStream) readLoop(c *client) {
	defer s.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			s.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// Broadcast queues msg for every connected client.
func (s *EventStream) Broadcast(msg StreamMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warn("dropping event for slow websocket client", "source", msg.Source)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *EventStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and rejects new ones.
func (s *EventStream) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	s.logger.InfoContext(ctx, "event stream closed", "clients", len(clients))
}
