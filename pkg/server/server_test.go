package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

func startTestServer(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(cfg)
	srv.running.Store(true)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialTest(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("message kind = %d, want text", kind)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	return msg
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message kind = %d, want binary", kind)
	}
	return data
}

func TestPingPong(t *testing.T) {
	_, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":1234.5}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}

	pong, ok := readMessage(t, conn).(*protocol.Pong)
	if !ok {
		t.Fatal("reply is not a pong")
	}
	if pong.Timestamp != 1234.5 {
		t.Errorf("Timestamp = %v, want 1234.5 exactly", pong.Timestamp)
	}
	if pong.ServerTime < 0 {
		t.Errorf("ServerTime = %v, want >= 0", pong.ServerTime)
	}
}

func TestClientCount(t *testing.T) {
	srv, ts := startTestServer(t, nil)

	conn := dialTest(t, ts)
	waitFor(t, func() bool { return srv.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return srv.ClientCount() == 0 })
}

func TestMaxClientsRejected(t *testing.T) {
	srv, ts := startTestServer(t, &Config{MaxClients: 1})

	first := dialTest(t, ts)
	// Make sure the first session is registered before racing a second.
	first.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":0}`))
	readMessage(t, first)

	second := dialTest(t, ts)
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	if err == nil {
		t.Fatal("over-limit connection should be closed by the server")
	}
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Logf("close error = %v (close code not verified by all proxies)", err)
	}

	if got := srv.ClientCount(); got != 1 {
		t.Errorf("ClientCount = %d, want 1 (registry must be untouched)", got)
	}
}

func TestFrameIngestOverWire(t *testing.T) {
	srv, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)

	announce := `{"type":"frame","metadata":{"sequence":7,"timestamp":1.5,"width":2,"height":2,"format":"rgba","keyframe":true}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(announce)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 16)); err != nil {
		t.Fatalf("write error = %v", err)
	}

	// Ping acts as an ordering barrier: once the pong arrives, both
	// earlier messages have been dispatched.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":0}`))
	readMessage(t, conn)

	stats := srv.Stats()
	if stats.Clients != 1 {
		t.Fatalf("Clients = %d, want 1", stats.Clients)
	}
	got := stats.Sessions[0].Stats
	if got.FramesReceived != 1 || got.BytesTransferred != 16 {
		t.Errorf("stats = %+v, want 1 frame / 16 bytes", got)
	}
}

func TestMalformedEnvelopeGetsErrorReply(t *testing.T) {
	_, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"setMode"}`))

	em, ok := readMessage(t, conn).(*protocol.ErrorMessage)
	if !ok {
		t.Fatal("reply is not an error message")
	}
	if em.Code != "protocol" {
		t.Errorf("Code = %q, want protocol", em.Code)
	}

	// Connection survives the error.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":9}`))
	if _, ok := readMessage(t, conn).(*protocol.Pong); !ok {
		t.Error("connection should stay usable after a protocol error")
	}
}

func TestBroadcastFrame(t *testing.T) {
	srv, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)
	waitFor(t, func() bool { return srv.ClientCount() == 1 })

	white := make([]byte, 16)
	for i := range white {
		white[i] = 255
	}
	f, err := frame.New(protocol.FrameMetadata{
		Sequence: 3, Width: 2, Height: 2, Format: protocol.FormatRGBA, Keyframe: true,
	}, white)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.BroadcastFrame(f); err != nil {
		t.Fatalf("BroadcastFrame() error = %v", err)
	}

	ack, ok := readMessage(t, conn).(*protocol.FrameAck)
	if !ok {
		t.Fatal("first message is not a frameAck")
	}
	if ack.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", ack.Sequence)
	}

	payload := readBinary(t, conn)
	if len(payload) != 16 {
		t.Errorf("payload length = %d, want 16 (session format is rgba)", len(payload))
	}
}

func TestBroadcastConvertsPerSession(t *testing.T) {
	srv, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"setFormat","format":"rgb565","width":2,"height":2}`))
	if _, ok := readMessage(t, conn).(*protocol.FormatAck); !ok {
		t.Fatal("expected formatAck")
	}

	white := make([]byte, 16)
	for i := range white {
		white[i] = 255
	}
	f, _ := frame.New(protocol.FrameMetadata{
		Sequence: 1, Width: 2, Height: 2, Format: protocol.FormatRGBA, Keyframe: true,
	}, white)

	if err := srv.BroadcastFrame(f); err != nil {
		t.Fatalf("BroadcastFrame() error = %v", err)
	}

	if _, ok := readMessage(t, conn).(*protocol.FrameAck); !ok {
		t.Fatal("first message is not a frameAck")
	}
	payload := readBinary(t, conn)
	if len(payload) != 8 {
		t.Fatalf("payload length = %d, want 8 (converted to rgb565)", len(payload))
	}
	for _, b := range payload {
		if b != 0xFF {
			t.Errorf("converted payload byte = %02x, want ff", b)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := startTestServer(t, nil)
	conn := dialTest(t, ts)
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":0}`))
	readMessage(t, conn)

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats error = %v", err)
	}
	defer resp.Body.Close()

	var stats ServerStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if stats.Clients != 1 || len(stats.Sessions) != 1 {
		t.Fatalf("stats = %+v, want one session", stats)
	}
	if stats.Sessions[0].State != protocol.StateConnected {
		t.Errorf("State = %q, want connected", stats.Sessions[0].State)
	}
	if stats.Sessions[0].Format != protocol.FormatRGBA {
		t.Errorf("Format = %q, want rgba default", stats.Sessions[0].Format)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	_, ts := startTestServer(t, nil)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestStartStop(t *testing.T) {
	srv := New(&Config{Addr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == "127.0.0.1:0" {
		t.Error("Addr() should report the bound port")
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := srv.Stop(context.Background()); err != ErrServerClosed {
		t.Errorf("second Stop() = %v, want ErrServerClosed", err)
	}
}

func TestStopClosesSessions(t *testing.T) {
	srv := New(&Config{Addr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return srv.ClientCount() == 1 })

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("client read should fail after server stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
