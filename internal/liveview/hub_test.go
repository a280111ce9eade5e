package liveview

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/spindle-monitor/internal/acquisition"
	"github.com/roman-kulish/spindle-monitor/internal/render"
	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	state acquisition.State
}

func (c *fakeController) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeController) Start(_ context.Context, ch spectrum.Channel) error {
	c.record("start " + ch.String())
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.record("stop")
	return nil
}

func (c *fakeController) SetChannel(_ context.Context, ch spectrum.Channel) error {
	c.record("channel " + ch.String())
	return nil
}

func (c *fakeController) FetchNow(context.Context) error {
	c.record("fetch")
	return &acquisition.StateViolation{Op: "fetch", Status: acquisition.Idle}
}

func (c *fakeController) Snapshot() acquisition.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *fakeController) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func runningState(seq uint64, amplitude float64) acquisition.State {
	g := spectrum.NewGrid([]float64{0, 1}, []float64{0, 10})
	g.Z = [][]float64{{amplitude, amplitude}, {amplitude, amplitude}}

	return acquisition.State{
		Status:     acquisition.Running,
		Channel:    "2",
		RunID:      uuid.New(),
		IssuedSeq:  seq,
		AppliedSeq: seq,
		LastFrame: &spectrum.Frame{
			Seq:        seq,
			Channel:    "2",
			ReceivedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Grid:       g,
			Range:      spectrum.Range{Max: 8},
		},
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return m
}

func TestHub_Commands(t *testing.T) {
	ctrl := &fakeController{state: acquisition.State{Channel: "3"}}
	h := New(ctrl)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv)

	commands := []Command{
		{Action: ActionStart},
		{Action: ActionChannel, Channel: "4"},
		{Action: ActionStart, Channel: "1"},
		{Action: ActionStop},
		{Action: ActionFetch},
	}
	for _, cmd := range commands {
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatalf("writing %s: %v", cmd.Action, err)
		}
	}

	m := readMessage(t, conn)
	if m.Type != TypeError || !strings.Contains(m.Error, "fetch") {
		t.Fatalf("expected the fetch error, got %+v", m)
	}

	want := []string{"start 3", "channel 4", "start 1", "stop", "fetch"}
	got := ctrl.recorded()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, got)
	}

	testCases := []struct {
		name string
		cmd  Command
	}{
		{"unknown action", Command{Action: "reboot"}},
		{"unknown channel", Command{Action: ActionChannel, Channel: "9"}},
		{"unknown start channel", Command{Action: ActionStart, Channel: "x"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := conn.WriteJSON(tc.cmd); err != nil {
				t.Fatalf("writing: %v", err)
			}
			if m := readMessage(t, conn); m.Type != TypeError || m.Error == "" {
				t.Errorf("expected an error message, got %+v", m)
			}
		})
	}

	if n := len(ctrl.recorded()); n != len(want) {
		t.Errorf("rejected commands reached the controller: %v", ctrl.recorded())
	}
}

func TestHub_Broadcast(t *testing.T) {
	h := New(&fakeController{})
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	h.Observe(runningState(1, 3))

	conn := dial(t, srv)

	if m := readMessage(t, conn); m.Type != TypeState || m.State.Status != "running" || m.State.Seq != 1 {
		t.Fatalf("expected the cached state first, got %+v", m)
	}
	m := readMessage(t, conn)
	if m.Type != TypeFrame || m.Input == nil || m.Input.Seq != 1 {
		t.Fatalf("expected the cached frame, got %+v", m)
	}
	if z := m.Input.Data[0].Z; len(z) != 2 || z[0][0] != 3 {
		t.Errorf("unexpected heatmap %v", z)
	}

	// Same frame: only the state is pushed.
	s := runningState(1, 3)
	s.ConsecutiveFailures = 1
	h.Observe(s)
	h.Observe(runningState(2, 5))

	if m = readMessage(t, conn); m.Type != TypeState || m.State.ConsecutiveFailures != 1 {
		t.Fatalf("expected a state update, got %+v", m)
	}
	if m = readMessage(t, conn); m.Type != TypeState || m.State.Seq != 2 {
		t.Fatalf("expected the state of seq 2, got %+v", m)
	}
	if m = readMessage(t, conn); m.Type != TypeFrame || m.Input.Seq != 2 || m.Input.Data[0].Z[1][1] != 5 {
		t.Fatalf("expected the frame of seq 2, got %+v", m)
	}
}

func TestHub_API(t *testing.T) {
	ctrl := &fakeController{state: runningState(4, 2)}
	r, err := render.NewRasterizer(render.RasterConfig{Width: 40, Height: 20})
	if err != nil {
		t.Fatalf("creating rasterizer: %v", err)
	}
	h := New(ctrl, WithRasterizer(r))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := get("/")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("expected the dashboard page, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp = get("/api/state")
	var view StateView
	if err = json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if view.Status != "running" || view.Channel != "2" || view.Seq != 4 || view.RunID == "" || view.ReceivedAt == nil {
		t.Errorf("unexpected state view %+v", view)
	}

	for _, path := range []string{"/api/frame", "/api/snapshot"} {
		if resp = get(path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404 before any frame, got %d", path, resp.StatusCode)
		}
	}

	h.Observe(ctrl.Snapshot())

	resp = get("/api/frame")
	var in render.Input
	if err = json.NewDecoder(resp.Body).Decode(&in); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if in.Seq != 4 || len(in.Data) != 1 {
		t.Errorf("unexpected input %+v", in)
	}

	resp = get("/api/snapshot")
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if _, err = png.Decode(resp.Body); err != nil {
		t.Errorf("decoding snapshot: %v", err)
	}

	if resp = get("/api/snapshot?format=gif"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown format, got %d", resp.StatusCode)
	}

	// A channel change clears the frame.
	h.Observe(acquisition.State{Status: acquisition.Running, Channel: "3"})
	if _, ok := h.Latest(); ok {
		t.Error("expected no frame after it was cleared")
	}
}

type countingMetrics struct {
	mu                                 sync.Mutex
	connected, disconnected, dropped int
}

func (m *countingMetrics) ClientConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected++
}

func (m *countingMetrics) ClientDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected++
}

func (m *countingMetrics) UpdateDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func TestClient_EnqueueDropsOldest(t *testing.T) {
	c := newClient(nil)

	for i := range sendQueueSize {
		if c.enqueue([]byte{byte(i)}) {
			t.Fatalf("message %d dropped below capacity", i)
		}
	}
	if !c.enqueue([]byte{sendQueueSize}) {
		t.Fatal("expected a drop at capacity")
	}

	for want := 1; want <= sendQueueSize; want++ {
		if got := <-c.send; got[0] != byte(want) {
			t.Fatalf("expected message %d, got %d", want, got[0])
		}
	}
}

func TestHub_SlowClientDropsUpdates(t *testing.T) {
	m := &countingMetrics{}
	h := New(&fakeController{}, WithMetrics(m))

	c := newClient(nil)
	h.clients[c] = struct{}{}

	for seq := uint64(1); seq <= 3; seq++ {
		h.Observe(runningState(seq, 1))
	}

	// Three states and three frames through a queue of four.
	if m.dropped != 2 {
		t.Errorf("expected 2 dropped updates, got %d", m.dropped)
	}

	var last Message
	for len(c.send) > 0 {
		if err := json.Unmarshal(<-c.send, &last); err != nil {
			t.Fatalf("decoding: %v", err)
		}
	}
	if last.Type != TypeFrame || last.Input.Seq != 3 {
		t.Errorf("the newest frame must survive, got %+v", last)
	}
}

func TestHub_ClientMetrics(t *testing.T) {
	m := &countingMetrics{}
	h := New(&fakeController{}, WithMetrics(m))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(Command{Action: "noop"}); err != nil {
		t.Fatalf("writing: %v", err)
	}
	readMessage(t, conn)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		done := m.connected == 1 && m.disconnected == 1
		m.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected one connect and one disconnect, got %d and %d", m.connected, m.disconnected)
}
