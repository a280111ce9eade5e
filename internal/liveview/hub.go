package liveview

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/render"
	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = (pongTimeout * 9) / 10
	commandTimeout = 10 * time.Second
	maxCommandSize = 4096

	// sendQueueSize is the number of messages buffered per client; when full, the oldest one is
	// replaced.
	sendQueueSize = 4
)

//go:embed static/index.html
var indexHTML []byte

// Controller is the part of the acquisition controller driven from the browser.
type Controller interface {
	Start(ctx context.Context, ch spectrum.Channel) error
	Stop(ctx context.Context) error
	SetChannel(ctx context.Context, ch spectrum.Channel) error
	FetchNow(ctx context.Context) error
	Snapshot() acquisition.State
}

// Metrics receives the hub's observations.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	UpdateDropped()
}

// WithLogger sets the logger for the hub
func WithLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "liveview"))
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) func(*Hub) {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithAxisConfig sets the layout of the pushed heatmaps.
func WithAxisConfig(c render.AxisConfig) func(*Hub) {
	return func(h *Hub) {
		h.axes = c
	}
}

// WithColorConfig sets the color domain and scale of the pushed heatmaps.
func WithColorConfig(c render.ColorConfig) func(*Hub) {
	return func(h *Hub) {
		h.colors = c
	}
}

// WithRasterizer enables the image snapshot endpoint.
func WithRasterizer(r *render.Rasterizer) func(*Hub) {
	return func(h *Hub) {
		h.rasterizer = r
	}
}

// Hub pushes acquisition states and heatmap inputs to connected browsers and relays their
// commands to the controller. Hub.Observe must be subscribed to the controller.
type Hub struct {
	ctrl       Controller
	axes       render.AxisConfig
	colors     render.ColorConfig
	rasterizer *render.Rasterizer
	metrics    Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	clients   map[*client]struct{}
	state     []byte        // Last encoded state message
	frame     []byte        // Last encoded frame message
	input     *render.Input // Last heatmap input
	frameSeq  uint64
}

// New creates a hub relaying commands to ctrl.
func New(ctrl Controller, options ...func(*Hub)) *Hub {
	h := Hub{
		ctrl:    ctrl,
		axes:    render.DefaultAxisConfig(),
		colors:  render.DefaultColorConfig(),
		metrics: nopMetrics{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*client]struct{}),
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Handler serves the dashboard page at /, the websocket at /ws, the state at /api/state, the last
// heatmap input at /api/frame and, when a rasterizer is set, an image of it at /api/snapshot.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", serveIndex)
	mux.HandleFunc("GET /ws", h.serveWS)
	mux.HandleFunc("GET /api/state", h.serveState)
	mux.HandleFunc("GET /api/frame", h.serveFrame)
	if h.rasterizer != nil {
		mux.HandleFunc("GET /api/snapshot", h.serveSnapshot)
	}
	return mux
}

// Observe publishes a state to every client. It is an acquisition.Observer.
func (h *Hub) Observe(s acquisition.State) {
	msgs := make([][]byte, 0, 2)

	stateMsg, err := encode(Message{Type: TypeState, State: ptr(NewStateView(s))})
	if err != nil {
		h.logger.Error("encoding state", slog.String("error", err.Error()))
		return
	}
	msgs = append(msgs, stateMsg)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = stateMsg

	switch {
	case s.LastFrame == nil:
		h.frame, h.input, h.frameSeq = nil, nil, 0

	case s.AppliedSeq != h.frameSeq:
		in := render.Adapt(*s.LastFrame, h.axes, h.colors)
		frameMsg, err := encode(Message{Type: TypeFrame, Input: &in})
		if err != nil {
			h.logger.Error("encoding frame", slog.String("error", err.Error()))
			break
		}
		h.frame, h.input, h.frameSeq = frameMsg, &in, s.AppliedSeq
		msgs = append(msgs, frameMsg)
	}

	for c := range h.clients {
		for _, msg := range msgs {
			if c.enqueue(msg) {
				h.metrics.UpdateDropped()
			}
		}
	}
}

// Latest returns the last heatmap input, if any frame has been published.
func (h *Hub) Latest() (render.Input, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.input == nil {
		return render.Input{}, false
	}
	return *h.input, true
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (h *Hub) serveState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(h.ctrl.Snapshot()))
}

func (h *Hub) serveFrame(w http.ResponseWriter, _ *http.Request) {
	in, ok := h.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, Message{Type: TypeError, Error: "no frame yet"})
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Hub) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	in, ok := h.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, Message{Type: TypeError, Error: "no frame yet"})
		return
	}

	format := render.ImagePNG
	if f := r.URL.Query().Get("format"); f != "" {
		var err error
		if format, err = render.ParseImageFormat(f); err != nil {
			writeJSON(w, http.StatusBadRequest, Message{Type: TypeError, Error: err.Error()})
			return
		}
	}

	img, err := h.rasterizer.Render(in)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Message{Type: TypeError, Error: err.Error()})
		return
	}

	var buf bytes.Buffer
	if err = render.EncodeImage(&buf, img, format); err != nil {
		writeJSON(w, http.StatusInternalServerError, Message{Type: TypeError, Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "image/"+string(format))
	_, _ = w.Write(buf.Bytes())
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(conn)
	logger := h.logger.With(slog.String("remote", r.RemoteAddr))

	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, msg := range [][]byte{h.state, h.frame} {
		if msg != nil {
			c.enqueue(msg)
		}
	}
	h.mu.Unlock()

	h.metrics.ClientConnected()
	logger.Info("client connected")

	go c.writeLoop(logger)
	h.readLoop(c, logger)

	h.mu.Lock()
	delete(h.clients, c)
	c.close()
	h.mu.Unlock()

	h.metrics.ClientDisconnected()
	logger.Info("client disconnected")
}

func (h *Hub) readLoop(c *client, logger *slog.Logger) {
	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("reading command", slog.String("error", err.Error()))
			}
			return
		}

		if err := h.handle(cmd); err != nil {
			logger.Warn("command failed", slog.String("action", cmd.Action), slog.String("error", err.Error()))
			if msg, encErr := encode(Message{Type: TypeError, Error: err.Error()}); encErr == nil {
				c.enqueue(msg)
			}
		}
	}
}

func (h *Hub) handle(cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Action {
	case ActionStart:
		ch := h.ctrl.Snapshot().Channel
		if cmd.Channel != "" {
			var err error
			if ch, err = spectrum.ParseChannel(cmd.Channel); err != nil {
				return err
			}
		}
		return h.ctrl.Start(ctx, ch)

	case ActionStop:
		return h.ctrl.Stop(ctx)

	case ActionChannel:
		ch, err := spectrum.ParseChannel(cmd.Channel)
		if err != nil {
			return err
		}
		return h.ctrl.SetChannel(ctx, ch)

	case ActionFetch:
		return h.ctrl.FetchNow(ctx)

	default:
		return fmt.Errorf("unknown action '%s'", cmd.Action)
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. When the queue is full the oldest message is dropped and
// true is returned. It must be called with the hub lock held.
func (c *client) enqueue(msg []byte) (dropped bool) {
	select {
	case <-c.done:
		return false
	default:
	}

	for {
		select {
		case c.send <- msg:
			return dropped
		default:
		}

		select {
		case <-c.send:
			dropped = true
		default:
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop(logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("writing message", slog.String("error", err.Error()))
				c.close()
				return
			}
			logger.Debug("message sent", slog.String("size", humanize.Bytes(uint64(len(msg)))))

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ptr[T any](v T) *T {
	return &v
}

type nopMetrics struct{}

func (nopMetrics) ClientConnected()    {}
func (nopMetrics) ClientDisconnected() {}
func (nopMetrics) UpdateDropped()      {}
