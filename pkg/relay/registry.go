package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxscribe/relay/pkg/metrics"
)

// sweepInterval is fixed: the sweeper needs no external configuration.
const sweepInterval = 30 * time.Second

// sweepTarget is the slice of Session the sweeper needs.
type sweepTarget interface {
	ID() string
	Mode() string
	Alive() bool
	markStale()
	Ping()
	Close() error
}

// Registry tracks every open client session process-wide and periodically
// evicts unresponsive ones. It holds back references only: a session is
// closed through its own teardown path, which cascades to the paired
// upstream leg via the coordinator.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]sweepTarget

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]sweepTarget),
		interval: sweepInterval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Add registers a session on connection open.
func (r *Registry) Add(s sweepTarget) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	metrics.Default.RecordSessionOpen(s.Mode())
	r.logger.Info("session_registered",
		slog.String("session_id", s.ID()),
		slog.String("mode", s.Mode()))
}

// Remove deregisters a session on connection close.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		metrics.Default.RecordSessionClose()
		r.logger.Info("session_deregistered",
			slog.String("session_id", id))
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start launches the background sweep loop.
func (r *Registry) Start() {
	go r.sweepLoop()
	r.logger.Info("liveness_sweeper_started",
		slog.Duration("interval", r.interval))
}

// Stop halts the sweep loop. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep terminates every session that failed to acknowledge the previous
// probe, then marks the survivors stale and probes them again.
func (r *Registry) sweep() {
	r.mu.Lock()
	targets := make([]sweepTarget, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		if !s.Alive() {
			r.logger.Warn("session_unresponsive",
				slog.String("session_id", s.ID()))
			metrics.Default.RecordSessionSwept()
			_ = s.Close()
			continue
		}
		s.markStale()
		s.Ping()
	}
}

// CloseAll force-closes every registered session; used while draining.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	targets := make([]sweepTarget, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()
	for _, s := range targets {
		_ = s.Close()
	}
}
