package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voxscribe/relay/pkg/adapters/stt"
	"github.com/voxscribe/relay/pkg/errorsx"
	"github.com/voxscribe/relay/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	// openTimeout bounds the upstream handshake: a connection that has
	// not reported open within this window is torn down.
	openTimeout = 5 * time.Second

	defaultModel          = "nova-2-medical"
	defaultLanguage       = "en-US"
	defaultSampleRate     = 48000
	defaultEndpointingMS  = 300
	defaultUtteranceEndMS = 1000
)

// Live is one Deepgram live-transcription connection. It reports its
// lifecycle to the owning session through an stt.Handler and never
// retries on its own: a failed connection is fatal for the session.
type Live struct {
	cfg     stt.Config
	handler stt.Handler
	logger  *slog.Logger

	dgClient   *client.WSCallback
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	ready      atomic.Bool
	closed     atomic.Bool
	openTimer  *time.Timer
	metaLogged atomic.Bool
}

// Dial is the stt.Dialer for Deepgram.
func Dial(cfg stt.Config, h stt.Handler) (stt.LiveTranscriber, error) {
	return NewLive(cfg, h)
}

// NewLive validates the configuration without opening a socket. A missing
// API key rejects the session here so the caller can fail it cheaply.
func NewLive(cfg stt.Config, h stt.Handler) (*Live, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errorsx.Wrap(errors.New("deepgram api key is not configured"), errorsx.ReasonUpstreamAuth)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = defaultEndpointingMS
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = defaultUtteranceEndMS
	}

	logger := logging.NewComponentLogger(slog.Default(), "deepgram_live")
	return &Live{
		cfg:     cfg,
		handler: h,
		logger:  logger,
	}, nil
}

func (s *Live) Name() string { return "deepgram_live" }

func (s *Live) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:           s.cfg.Model,
		Language:        s.cfg.Language,
		Encoding:        wireEncoding(s.cfg.Encoding),
		SampleRate:      s.cfg.SampleRate,
		Channels:        1,
		Alternatives:    1,
		InterimResults:  true,
		SmartFormat:     false,
		Punctuate:       s.cfg.Punctuate,
		ProfanityFilter: false,
		Diarize:         false,
		Numerals:        true,
		Endpointing:     strconv.Itoa(s.cfg.EndpointingMS),
		UtteranceEndMs:  strconv.Itoa(s.cfg.UtteranceEndMS),
		VadEvents:       true,
	}

	s.logger.Info("initializing deepgram connection",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("model", s.cfg.Model),
		slog.String("encoding", transcriptOptions.Encoding),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Bool("punctuate", s.cfg.Punctuate))

	cb := &callback{parent: s}
	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		s.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", s.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonUpstreamConnect)
	}
	s.dgClient = dgClient

	s.openTimer = time.AfterFunc(openTimeout, s.openTimedOut)

	go func() {
		if connected := s.dgClient.Connect(); !connected {
			s.logger.Error("deepgram_connect_failed",
				slog.String("session_id", s.cfg.SessionID))
			if !s.closed.Load() {
				s.handler.Failure("upstream connection failed")
			}
			return
		}
		if err := s.dgClient.Stream(s.pipeReader); err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", s.cfg.SessionID))
		}
	}()

	return nil
}

// openTimedOut fires when the upstream handshake never reported open.
func (s *Live) openTimedOut() {
	if s.ready.Load() || s.closed.Load() {
		return
	}
	s.logger.Error("deepgram_open_timeout",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("reason_code", string(errorsx.ReasonUpstreamTimeout)))
	h := s.handler
	_ = s.Close()
	h.Failure("upstream handshake timeout")
}

func (s *Live) SendAudio(data []byte) error {
	if s.closed.Load() {
		return errorsx.Wrap(errors.New("upstream connection closed"), errorsx.ReasonUpstreamSend)
	}
	if !s.ready.Load() || s.pipeWriter == nil {
		return errorsx.Wrap(errors.New("upstream connection not ready"), errorsx.ReasonUpstreamSend)
	}
	if _, err := s.pipeWriter.Write(data); err != nil {
		s.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("session_id", s.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonUpstreamSend)
	}
	return nil
}

// Finish closes the audio stream so the recognizer drains pending
// results and then closes the connection itself.
func (s *Live) Finish() {
	s.logger.Info("finishing deepgram stream",
		slog.String("session_id", s.cfg.SessionID))
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
}

func (s *Live) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("closing deepgram connection",
		slog.String("session_id", s.cfg.SessionID))
	if s.openTimer != nil {
		s.openTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	return nil
}

// wireEncoding maps the negotiated client encoding onto Deepgram's
// encoding names. Anything that is not pcm16 is treated as opus.
func wireEncoding(enc string) string {
	if enc == "pcm16" {
		return "linear16"
	}
	return "opus"
}

// --- Callback Implementation ---

type callback struct {
	parent *Live
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	p := c.parent
	if p.closed.Load() {
		return nil
	}
	p.ready.Store(true)
	if p.openTimer != nil {
		p.openTimer.Stop()
	}
	p.logger.Info("deepgram_connection_opened",
		slog.String("session_id", p.cfg.SessionID))
	p.handler.Ready()
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	p := c.parent
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	p.logger.Debug("transcript_received",
		slog.String("session_id", p.cfg.SessionID),
		slog.Bool("is_final", isFinal))

	p.handler.Transcript(transcript, isFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	p := c.parent
	if p.metaLogged.CompareAndSwap(false, true) {
		p.logger.Info("deepgram_metadata_received",
			slog.String("session_id", p.cfg.SessionID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	p := c.parent
	p.logger.Info("deepgram_connection_closed",
		slog.String("session_id", p.cfg.SessionID))
	p.handler.Closed(cr.Type)
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	p := c.parent
	p.logger.Error("deepgram_error",
		slog.String("session_id", p.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	p.handler.Failure(fmt.Sprintf("upstream error: %s", er.ErrCode))
	return nil
}

// UnhandledEvent receives frames the SDK could not decode. They are
// logged and dropped; one malformed message never ends the session.
func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.Int("bytes", len(byData)))
	return nil
}

var _ stt.LiveTranscriber = (*Live)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
