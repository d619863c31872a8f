package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxscribe/relay/pkg/errorsx"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer; sized for audio chunks.
	maxMessageSize = 512 * 1024

	sendQueueSize = 256
)

// frameHandler consumes the frames of one client connection. The
// transport-level distinction between binary and text frames is
// preserved; handlers never infer it from content.
type frameHandler interface {
	HandleBinary(data []byte)
	HandleText(msg string)
	HandleGone()
}

type outFrame struct {
	kind    int
	payload []byte
}

// Session owns one client WebSocket connection. All writes go through a
// single writer goroutine; the writer flushes queued frames and closes
// the connection when the send queue is closed, so terminal messages
// enqueued just before Close still reach the client.
type Session struct {
	id     string
	conn   *websocket.Conn
	params HandshakeParams
	logger *slog.Logger

	send  chan outFrame
	alive atomic.Bool

	mu     sync.Mutex
	closed bool
}

func newSession(id string, conn *websocket.Conn, params HandshakeParams, logger *slog.Logger) *Session {
	s := &Session{
		id:     id,
		conn:   conn,
		params: params,
		logger: logger,
		send:   make(chan outFrame, sendQueueSize),
	}
	s.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		s.alive.Store(true)
		return nil
	})
	go s.writeLoop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Params() HandshakeParams { return s.params }

func (s *Session) Mode() string { return s.params.Mode }

// Alive reports whether the peer acknowledged the last liveness probe.
func (s *Session) Alive() bool { return s.alive.Load() }

func (s *Session) markStale() { s.alive.Store(false) }

// Send marshals v and queues it as a text frame. Send never blocks; a
// full queue drops the frame with a warning.
func (s *Session) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonClientSend)
	}
	if !s.enqueue(outFrame{kind: websocket.TextMessage, payload: payload}) {
		return errorsx.Wrap(errors.New("session closed"), errorsx.ReasonClientSend)
	}
	return nil
}

// Ping queues a liveness probe.
func (s *Session) Ping() {
	_ = s.enqueue(outFrame{kind: websocket.PingMessage})
}

// Close stops accepting frames and lets the writer drain and close the
// connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()
	return nil
}

func (s *Session) enqueue(f outFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- f:
	default:
		s.logger.Warn("session_send_queue_full",
			slog.String("session_id", s.id))
	}
	return true
}

func (s *Session) writeLoop() {
	for f := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(f.kind, f.payload); err != nil {
			s.logger.Debug("session_write_failed",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
			break
		}
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}

// readLoop pumps frames from the connection into the handler until the
// connection dies, then reports the client gone. Runs on the caller's
// goroutine; frames are therefore handled strictly in arrival order.
func (s *Session) readLoop(h frameHandler) {
	defer func() {
		_ = s.Close()
		h.HandleGone()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				s.logger.Warn("session_read_error",
					slog.String("session_id", s.id),
					slog.String("error", err.Error()))
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			h.HandleBinary(payload)
		case websocket.TextMessage:
			h.HandleText(string(payload))
		default:
			s.logger.Debug("session_unexpected_frame",
				slog.String("session_id", s.id),
				slog.Int("kind", kind))
		}
	}
}

// echoHandler is the default mode: a connectivity self-test that wraps
// every client text message in a structured reply.
type echoHandler struct {
	sess   *Session
	logger *slog.Logger
}

func (e *echoHandler) HandleText(msg string) {
	_ = e.sess.Send(NewEcho(msg))
}

func (e *echoHandler) HandleBinary(data []byte) {
	e.logger.Debug("echo_binary_ignored",
		slog.String("session_id", e.sess.ID()),
		slog.Int("bytes", len(data)))
}

func (e *echoHandler) HandleGone() {}
