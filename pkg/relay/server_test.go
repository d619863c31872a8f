package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxscribe/relay/pkg/adapters/stt"
)

// readyUpstream completes its handshake synchronously on Start.
type readyUpstream struct {
	fakeUpstream
	h stt.Handler
}

func (r *readyUpstream) Start(ctx context.Context) error {
	r.h.Ready()
	return nil
}

// streamFixture captures the upstream leg and its event handler so the
// test can inject transcripts and closure from the recognizer side.
type streamFixture struct {
	mu sync.Mutex
	up *readyUpstream
}

func (f *streamFixture) dialer() stt.Dialer {
	return func(cfg stt.Config, h stt.Handler) (stt.LiveTranscriber, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.up = &readyUpstream{h: h}
		return f.up, nil
	}
}

func (f *streamFixture) upstream(t *testing.T) *readyUpstream {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.up == nil {
		t.Fatalf("upstream never dialed")
	}
	return f.up
}

func newTestServer(t *testing.T, dial stt.Dialer) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		Server: ServerConfig{WSPath: "/ws", AllowAnyOrigin: true},
		Upstream: UpstreamConfig{
			APIKey: "test-key",
			Model:  "nova-2-medical",
		},
	}
	s := NewServer(cfg, NewRegistry(testLogger()), dial, testLogger())
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)
	return s, ts
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerEchoSession(t *testing.T) {
	_, ts := newTestServer(t, rejectDial(errors.New("unused")))
	conn := dialWS(t, ts, "mode=echo")

	if msg := readJSON(t, conn); msg["type"] != TypeWelcome {
		t.Fatalf("expected welcome, got %v", msg)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, conn)
	if msg["type"] != TypeEcho || msg["msg"] != "ping" {
		t.Fatalf("expected echo of ping, got %v", msg)
	}
}

func TestServerStreamSession(t *testing.T) {
	fixture := &streamFixture{}
	_, ts := newTestServer(t, fixture.dialer())
	conn := dialWS(t, ts, "mode=stream&enc=pcm16&sr=16000")

	if msg := readJSON(t, conn); msg["type"] != TypeReady {
		t.Fatalf("expected ready, got %v", msg)
	}
	up := fixture.upstream(t)

	frames := [][]byte{{0x01, 0x02}, {0x03}}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	waitFor(t, func() bool { return len(up.audioFrames()) == 2 }, "audio forwarded")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("FINISH")); err != nil {
		t.Fatalf("write finish: %v", err)
	}
	waitFor(t, func() bool { return up.finishCount() == 1 }, "finish relayed")

	// Segments recognized after FINISH still reach the client.
	up.h.Transcript("heart is enlarged full stop", true)
	msg := readJSON(t, conn)
	if msg["type"] != TypeTranscript {
		t.Fatalf("expected transcript, got %v", msg)
	}
	if msg["text"] != "heart is enlarged." {
		t.Fatalf("unexpected text %q", msg["text"])
	}
	if msg["is_final"] != true {
		t.Fatalf("expected final transcript, got %v", msg)
	}

	up.h.Closed("end of stream")
	if msg := readJSON(t, conn); msg["type"] != TypeDone {
		t.Fatalf("expected done, got %v", msg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection closed after done")
	}
}

func TestServerStreamUpstreamRejected(t *testing.T) {
	_, ts := newTestServer(t, rejectDial(errors.New("api key missing")))
	conn := dialWS(t, ts, "mode=stream")

	if msg := readJSON(t, conn); msg["type"] != TypeError {
		t.Fatalf("expected error, got %v", msg)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection closed after error")
	}
}

func TestServerRejectsWhileDraining(t *testing.T) {
	s, ts := newTestServer(t, rejectDial(errors.New("unused")))
	if err := s.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := Config{Server: ServerConfig{
		AllowedOrigins: []string{"app.example.com", "https://admin.example.com"},
	}}
	s := NewServer(cfg, NewRegistry(testLogger()), rejectDial(errors.New("unused")), testLogger())

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser clients send no Origin
		{"https://app.example.com", true},
		{"http://app.example.com", true},
		{"https://admin.example.com", true},
		{"http://admin.example.com", false}, // scheme-qualified entry binds the scheme
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := s.checkOrigin(r); got != tc.want {
			t.Fatalf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}

	s.cfg.Server.AllowAnyOrigin = true
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	if !s.checkOrigin(r) {
		t.Fatalf("allow_any_origin must accept every origin")
	}
}

func TestServerAuthorizeHook(t *testing.T) {
	s, ts := newTestServer(t, rejectDial(errors.New("unused")))
	s.Authorize = func(r *http.Request) error {
		if r.URL.Query().Get("token") != "secret" {
			return errors.New("bad token")
		}
		return nil
	}

	resp, err := http.Get(ts.URL + "/?mode=echo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}

	conn := dialWS(t, ts, "mode=echo&token=secret")
	if msg := readJSON(t, conn); msg["type"] != TypeWelcome {
		t.Fatalf("expected welcome with valid token, got %v", msg)
	}
}
