package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxscribe/relay/pkg/adapters/stt"
	"github.com/voxscribe/relay/pkg/errorsx"
	"github.com/voxscribe/relay/pkg/metrics"
	"github.com/voxscribe/relay/pkg/normalize"
)

// State is the relay coordinator's lifecycle state.
type State int

const (
	StateInit State = iota
	StateAwaitingUpstream
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitingUpstream:
		return "AWAITING_UPSTREAM_READY"
	case StateRelaying:
		return "RELAYING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// clientLeg is the slice of Session the coordinator needs.
type clientLeg interface {
	ID() string
	Send(v any) error
	Close() error
}

// Coordinator pairs one client session with one upstream transcriber and
// drives the session state machine. Both legs deliver events on their own
// goroutines; the mutex serializes transitions, and every teardown path
// closes both legs so neither is ever left open against a dead peer.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	upstream stt.LiveTranscriber

	sess   clientLeg
	dial   stt.Dialer
	cfg    stt.Config
	logger *slog.Logger
}

func NewCoordinator(sess clientLeg, dial stt.Dialer, cfg stt.Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		state:  StateInit,
		sess:   sess,
		dial:   dial,
		cfg:    cfg,
		logger: logger,
	}
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start constructs the upstream leg and begins its handshake. A rejected
// construction (no API key) never opens a socket: the client gets one
// error message and the session closes.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateInit {
		c.mu.Unlock()
		return
	}
	up, err := c.dial(c.cfg, c)
	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()
		c.logger.Error("upstream_rejected",
			slog.String("session_id", c.sess.ID()),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		metrics.Default.RecordUpstreamError()
		_ = c.sess.Send(NewError("transcription service unavailable"))
		_ = c.sess.Close()
		return
	}
	c.upstream = up
	c.state = StateAwaitingUpstream
	c.mu.Unlock()

	c.logger.Info("awaiting_upstream_ready",
		slog.String("session_id", c.sess.ID()),
		slog.String("upstream", up.Name()))
	if err := up.Start(ctx); err != nil {
		c.Failure("transcription service unavailable")
	}
}

// HandleBinary forwards one client audio frame. Frames arriving before
// the upstream is ready are dropped, never buffered: stale audio after a
// late handshake is worse than slightly lost audio, and queuing here has
// no bound.
func (c *Coordinator) HandleBinary(data []byte) {
	c.mu.Lock()
	state := c.state
	up := c.upstream
	c.mu.Unlock()

	switch state {
	case StateAwaitingUpstream:
		metrics.Default.RecordAudioDropped("upstream_not_ready")
		c.logger.Debug("audio_dropped_before_ready",
			slog.String("session_id", c.sess.ID()),
			slog.Int("bytes", len(data)))
	case StateRelaying:
		if err := up.SendAudio(data); err != nil {
			metrics.Default.RecordAudioDropped("upstream_send_failed")
			c.logger.Warn("upstream_send_failed",
				slog.String("session_id", c.sess.ID()),
				slog.String("error", err.Error()))
			return
		}
		metrics.Default.RecordAudioForwarded()
	default:
	}
}

// HandleText processes a client control frame. FINISH ends the utterance
// by closing the upstream audio stream; the client connection stays open
// for the trailing transcripts and the done message. Anything else is
// logged and ignored.
func (c *Coordinator) HandleText(msg string) {
	if msg != finishSignal {
		c.logger.Debug("unexpected_text_ignored",
			slog.String("session_id", c.sess.ID()))
		return
	}
	c.mu.Lock()
	state := c.state
	up := c.upstream
	c.mu.Unlock()

	if (state == StateAwaitingUpstream || state == StateRelaying) && up != nil {
		c.logger.Info("finish_received",
			slog.String("session_id", c.sess.ID()),
			slog.String("state", state.String()))
		up.Finish()
	}
}

// HandleGone reacts to the client leg dying: the paired upstream leg is
// closed, best-effort.
func (c *Coordinator) HandleGone() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	up := c.upstream
	c.mu.Unlock()

	c.logger.Info("client_gone",
		slog.String("session_id", c.sess.ID()))
	if up != nil {
		_ = up.Close()
	}
}

// Ready is the upstream handshake completing.
func (c *Coordinator) Ready() {
	c.mu.Lock()
	if c.state != StateAwaitingUpstream {
		c.mu.Unlock()
		return
	}
	c.state = StateRelaying
	c.mu.Unlock()

	c.logger.Info("relaying",
		slog.String("session_id", c.sess.ID()))
	_ = c.sess.Send(NewReady())
}

// Transcript relays one recognized segment. Text is normalized unless the
// client negotiated upstream punctuation; whitespace-only segments are
// never relayed.
func (c *Coordinator) Transcript(text string, isFinal bool) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateRelaying {
		return
	}

	out := text
	if !c.cfg.Punctuate {
		out = normalize.Normalize(out)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return
	}
	metrics.Default.RecordTranscript(isFinal)
	_ = c.sess.Send(NewTranscript(out, isFinal))
}

// Failure is a fatal upstream condition: the client gets one error
// message, then both legs close.
func (c *Coordinator) Failure(reason string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	up := c.upstream
	c.mu.Unlock()

	metrics.Default.RecordUpstreamError()
	c.logger.Error("relay_failed",
		slog.String("session_id", c.sess.ID()),
		slog.String("reason", reason))
	_ = c.sess.Send(NewError(reason))
	if up != nil {
		_ = up.Close()
	}
	_ = c.sess.Close()
}

// Closed is the upstream connection ending normally: the client gets a
// done message and the session closes.
func (c *Coordinator) Closed(reason string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	up := c.upstream
	c.mu.Unlock()

	c.logger.Info("upstream_closed",
		slog.String("session_id", c.sess.ID()),
		slog.String("reason", reason))
	_ = c.sess.Send(NewDone())
	if up != nil {
		_ = up.Close()
	}
	_ = c.sess.Close()
}

var _ stt.Handler = (*Coordinator)(nil)
var _ frameHandler = (*Coordinator)(nil)
