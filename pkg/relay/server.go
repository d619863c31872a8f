package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxscribe/relay/pkg/adapters/stt"
)

// Server accepts client WebSocket connections and runs one session per
// connection. Identity verification belongs to the surrounding HTTP
// surface: an optional Authorize hook gates the upgrade, and the relay
// itself never re-checks identity per frame.
type Server struct {
	cfg      Config
	registry *Registry
	dial     stt.Dialer
	logger   *slog.Logger

	// Authorize, when set, runs before the upgrade; a non-nil error
	// rejects the connection with 403.
	Authorize func(r *http.Request) error

	upgrader   websocket.Upgrader
	httpServer *http.Server
	baseCtx    context.Context
	draining   atomic.Bool
}

func NewServer(cfg Config, registry *Registry, dial stt.Dialer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		dial:     dial,
		logger:   logger,
		baseCtx:  context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.WSPath, s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay_server_error",
				slog.String("error", err.Error()))
		}
	}()
	s.registry.Start()

	s.logger.Info("relay_server_started",
		slog.String("addr", s.cfg.Server.Addr),
		slog.String("ws_path", s.cfg.Server.WSPath))
	return nil
}

// Drain stops accepting upgrades, halts the sweeper and closes every open
// session. Implements runner.Drainer.
func (s *Server) Drain() error {
	s.draining.Store(true)
	s.registry.Stop()
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	s.registry.CloseAll()
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.Authorize != nil {
		if err := s.Authorize(r); err != nil {
			s.logger.Warn("ws_auth_rejected",
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	params := ParseHandshake(r.URL.Query())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed",
			slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()
	sess := newSession(id, conn, params, s.logger)
	s.registry.Add(sess)
	defer s.registry.Remove(id)

	s.logger.Info("session_opened",
		slog.String("session_id", id),
		slog.String("mode", params.Mode),
		slog.String("encoding", params.Encoding),
		slog.Int("sample_rate", params.SampleRate),
		slog.Bool("punctuate", params.Punctuate))

	switch params.Mode {
	case ModeStream:
		coord := NewCoordinator(sess, s.dial, s.upstreamConfig(id, params), s.logger)
		coord.Start(s.baseCtx)
		sess.readLoop(coord)
	default:
		_ = sess.Send(NewWelcome("connected"))
		sess.readLoop(&echoHandler{sess: sess, logger: s.logger})
	}

	s.logger.Info("session_closed",
		slog.String("session_id", id))
}

func (s *Server) upstreamConfig(id string, p HandshakeParams) stt.Config {
	return stt.Config{
		APIKey:         s.cfg.Upstream.APIKey,
		Model:          s.cfg.Upstream.Model,
		Language:       s.cfg.Upstream.Language,
		Encoding:       p.Encoding,
		SampleRate:     p.SampleRate,
		Punctuate:      p.Punctuate,
		SessionID:      id,
		EndpointingMS:  s.cfg.Upstream.EndpointingMS,
		UtteranceEndMS: s.cfg.Upstream.UtteranceEndMS,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.Server.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
