package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-wpan/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// Frame types on the change stream. The first three are sent by clients.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameChange      = "change"
	FrameError       = "error"
)

const (
	streamQueueLen  = 256
	streamPingEvery = 30 * time.Second
	streamWriteWait = 10 * time.Second
	streamReadLimit = 4096
)

// StreamFrame is one JSON message on /api/v1/ws, in either direction.
type StreamFrame struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Kinds  []wpan.ChangeKind `json:"kinds,omitempty"`
	Change *ChangeEvent      `json:"change,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ChangeEvent is a wpan.Change as streamed to clients.
type ChangeEvent struct {
	Kind     wpan.ChangeKind `json:"kind"`
	Entity   wpan.EntityRef  `json:"entity"`
	Property string          `json:"property,omitempty"`
	Value    any             `json:"value,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Time     time.Time       `json:"time"`
}

var streamKinds = map[wpan.ChangeKind]bool{
	wpan.ChangeDiscovered: true,
	wpan.ChangeProperty:   true,
	wpan.ChangeLink:       true,
	wpan.ChangeRejected:   true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds a management address; browsers from any origin may watch.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans engine changes out to stream clients. It implements
// wpan.Observer; Observe only marshals and queues, so a slow client drops
// frames instead of stalling the engine.
type Hub struct {
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*streamClient]struct{})}
}

// Run disconnects every client once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Observe implements wpan.Observer.
func (h *Hub) Observe(c wpan.Change) {
	data, err := json.Marshal(StreamFrame{
		Type: FrameChange,
		Change: &ChangeEvent{
			Kind:     c.Kind,
			Entity:   c.Entity,
			Property: c.Property,
			Value:    c.Value,
			Reason:   c.Reason,
			Time:     c.Time.UTC(),
		},
	})
	if err != nil {
		h.logger.Error("encoding change frame", "kind", c.Kind, "error", err)
		return
	}

	for _, client := range h.snapshot() {
		if client.wants(c.Kind) {
			client.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
		c.conn.Close() //nolint:errcheck // shutting down
	}
}

func (h *Hub) add(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) snapshot() []*streamClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// handleWebSocket upgrades the request and serves the change stream until
// the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	c := &streamClient{
		conn:  conn,
		out:   make(chan []byte, streamQueueLen),
		done:  make(chan struct{}),
		kinds: make(map[wpan.ChangeKind]bool),
	}
	if !s.hub.add(c) {
		conn.Close() //nolint:errcheck // hub already closed
		return
	}
	s.logger.Debug("stream client connected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())

	go c.writeLoop()
	go func() {
		c.readLoop()
		s.hub.remove(c)
		conn.Close() //nolint:errcheck // peer gone
		s.logger.Debug("stream client disconnected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())
	}()
}

// streamClient is one websocket peer. Only writeLoop writes to conn.
type streamClient struct {
	conn *websocket.Conn
	out  chan []byte

	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	kinds map[wpan.ChangeKind]bool
}

func (c *streamClient) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *streamClient) wants(kind wpan.ChangeKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[kind]
}

// enqueue drops the frame when the client is gone or its queue is full.
func (c *streamClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.out <- data:
	default:
	}
}

func (c *streamClient) reply(f StreamFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *streamClient) readLoop() {
	c.conn.SetReadLimit(streamReadLimit)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPingEvery + streamWriteWait))
	}
	extend() //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces on read
		c.handle(data)
	}
}

func (c *streamClient) writeLoop() {
	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	defer c.conn.Close() //nolint:errcheck // unblocks readLoop

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)) //nolint:errcheck // surfaces on write
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // best effort
			return
		case data := <-c.out:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handle(data []byte) {
	var f StreamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(StreamFrame{Type: FrameError, Error: "invalid JSON frame"})
		return
	}

	switch f.Type {
	case FramePing:
		c.reply(StreamFrame{Type: FramePong, ID: f.ID})
	case FrameSubscribe, FrameUnsubscribe:
		if err := c.setKinds(f.Kinds, f.Type == FrameSubscribe); err != nil {
			c.reply(StreamFrame{Type: FrameError, ID: f.ID, Error: err.Error()})
			return
		}
		c.reply(StreamFrame{Type: FrameAck, ID: f.ID, Kinds: c.subscribed()})
	default:
		c.reply(StreamFrame{Type: FrameError, ID: f.ID, Error: "unknown frame type " + f.Type})
	}
}

// setKinds applies a subscribe or unsubscribe. The frame is rejected as a
// whole if any kind is unknown.
func (c *streamClient) setKinds(kinds []wpan.ChangeKind, on bool) error {
	if len(kinds) == 0 {
		return errors.New("kinds must not be empty")
	}
	for _, k := range kinds {
		if !streamKinds[k] {
			return fmt.Errorf("unknown change kind %q", k)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		if on {
			c.kinds[k] = true
		} else {
			delete(c.kinds, k)
		}
	}
	return nil
}

// subscribed lists the current kinds in a stable order.
func (c *streamClient) subscribed() []wpan.ChangeKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wpan.ChangeKind, 0, len(c.kinds))
	for _, k := range []wpan.ChangeKind{wpan.ChangeDiscovered, wpan.ChangeProperty, wpan.ChangeLink, wpan.ChangeRejected} {
		if c.kinds[k] {
			out = append(out, k)
		}
	}
	return out
}
