package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - A Hub tracks connected clients.
//   - Per-client write pumps keep one slow client from blocking others.
//   - A broadcaster turns loop-emitted StateBroadcasts into JSON frames.
//
// The control loop never waits on any of this: broadcasts go through a
// buffered channel with a non-blocking send, and the initial state_init comes
// from the last published snapshot.
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
// ============================================================================

// wsModeChangedData is the JSON `data` payload for "mode_changed".
type wsModeChangedData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// wsBrightnessChangedData is the JSON `data` payload for "brightness_changed".
type wsBrightnessChangedData struct {
	Level    int  `json:"level"`
	External bool `json:"external"`
}

// wsTargetChangedData is the JSON `data` payload for "target_changed".
type wsTargetChangedData struct {
	Target int `json:"target"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

const (
	defaultClientQueue = 32
	hubQueue           = 64
)

// Hub fans frames out to websocket observers. Its client set is only changed
// from Run, through join/leave.
type Hub struct {
	logger *slog.Logger

	frames chan []byte
	joins  chan *Client
	leaves chan *Client
	done   chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	clientQueue int
}

// NewHub returns a hub whose clients queue up to clientQueue frames (0 means
// the default). Call Run to start it.
func NewHub(logger *slog.Logger, clientQueue int) *Hub {
	if clientQueue <= 0 {
		clientQueue = defaultClientQueue
	}
	return &Hub{
		logger:      logger,
		frames:      make(chan []byte, hubQueue),
		joins:       make(chan *Client, 16),
		leaves:      make(chan *Client, 16),
		done:        make(chan struct{}),
		clients:     make(map[*Client]struct{}),
		clientQueue: clientQueue,
	}
}

// Run serves joins, leaves and frames until ctx is canceled. On the way out
// every client is disconnected and later join/leave calls return at once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.dropAll()
			return

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.leaves:
			h.drop(c, "unregister")

		case frame := <-h.frames:
			h.fanOut(frame)
		}
	}
}

// join hands c to the hub. It reports false when the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave asks the hub to forget c. It never blocks past hub shutdown.
func (h *Hub) leave(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// fanOut queues frame on every client. A client whose queue is full is
// disconnected rather than waited on.
func (h *Hub) fanOut(frame []byte) {
	var stuck []*Client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			stuck = append(stuck, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stuck {
		h.drop(c, "slow_client")
	}
}

// dropAll disconnects every client, including ones whose join was queued
// but never served.
func (h *Hub) dropAll() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

drain:
	for {
		select {
		case c := <-h.joins:
			c.shutdown()
		default:
			break drain
		}
	}

	for _, c := range all {
		h.drop(c, "shutdown")
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	h.logger.Debug("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes queues a serialized frame, dropping it if the hub is behind.
func (h *Hub) BroadcastBytes(frame []byte) {
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("ws hub queue full, dropping frame", "bytes", len(frame))
	}
}

// ============================================================================
// Client
// ============================================================================

// Client is one websocket observer. send is closed exactly once, by the hub,
// which is how writePump learns to stop.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient wraps conn with a queue sized by hub.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	queue := defaultClientQueue
	if hub != nil {
		queue = hub.clientQueue
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, queue),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsBrightnessCoalesceWindow bounds how often fade steps reach clients. Only
// the latest level inside a window is sent.
const wsBrightnessCoalesceWindow = 100 * time.Millisecond

// writePump sends queued frames plus periodic pings until send is closed or a
// write fails.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		op := "write"

		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			err = c.conn.WriteMessage(websocket.TextMessage, frame)

		case <-ping.C:
			op = "ping"
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}

		if err != nil {
			c.logExit(op, err)
			return
		}
	}
}

// readPump only exists to process control frames and notice the peer going
// away. Observers have nothing to say to the daemon.
func (c *Client) readPump() {
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			if c.hub != nil {
				c.hub.leave(c)
			}
			return
		}
	}
}

func (c *Client) logExit(op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws client closed", "remote_addr", c.remoteAddr, "op", op, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws client error", "remote_addr", c.remoteAddr, "op", op, "error", err)
}

// ============================================================================
// HTTP handler
// ============================================================================

// stateWS serves the /ws endpoint.
type stateWS struct {
	hub    *Hub
	store  *stateStore
	logger *slog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Register mounts the handler on r.
func (s *stateWS) Register(r chi.Router, path string) {
	r.Get(path, s.handleStateWS)
}

// handleStateWS upgrades, sends state_init from the last snapshot and then
// registers the client for broadcasts.
func (s *stateWS) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	if snap, ok := s.store.Load(); ok {
		now := time.Now().UTC()
		if msg, err := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: snap}); err == nil {
			client.send <- msg
		}
	}

	if !s.hub.join(client) {
		// Shutting down.
		_ = conn.Close()
		return
	}

	// The request context ends when this handler returns, so the pumps are
	// tied to the connection instead.
	go client.writePump()
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals StateBroadcasts from src and fans them out through
// hub. Brightness updates are coalesced latest-wins per window; any other
// event flushes the pending brightness first so ordering is kept.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now()
		}
		ts = ts.UTC()
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flush := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerCh:
			flush()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "brightness_changed" {
				e := ev
				pending = &e
				if timer == nil {
					timer = time.NewTimer(wsBrightnessCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			flush()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastModeChanged:
		return wsOutboundEvent{
			Type: "mode_changed",
			Data: wsModeChangedData{From: ev.From.String(), To: ev.To.String(), Reason: ev.Reason},
			At:   ev.At,
		}, true

	case BroadcastBrightnessChanged:
		return wsOutboundEvent{
			Type: "brightness_changed",
			Data: wsBrightnessChangedData{Level: ev.Level, External: ev.External},
			At:   ev.At,
		}, true

	case BroadcastTargetChanged:
		return wsOutboundEvent{
			Type: "target_changed",
			Data: wsTargetChangedData{Target: ev.Target},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
