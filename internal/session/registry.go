// Package session maps transport connections to dialogue sessions:
// creation, lookup, reconnect-resume, and disposal.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/kempenbot/internal/dialog"
	"github.com/ashureev/kempenbot/internal/domain"
)

// Config holds registry tunables.
type Config struct {
	// ReconnectGrace is how long a disconnected session is retained for
	// resume before eviction.
	ReconnectGrace time.Duration
	// IdleTTL evicts sessions with no activity, connected or not.
	IdleTTL time.Duration
	// SweepInterval is how often the sweeper scans for expired sessions.
	SweepInterval time.Duration
}

// DefaultConfig returns default registry configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectGrace: 90 * time.Second,
		IdleTTL:        30 * time.Minute,
		SweepInterval:  time.Minute,
	}
}

// Handle binds one live session to at most one transport connection.
type Handle struct {
	ID      string
	Machine *dialog.Machine

	mu             sync.Mutex
	connected      bool
	disconnectedAt time.Time
}

// ResumeToken returns the client correlation token for this session.
func (h *Handle) ResumeToken() string {
	return h.Machine.Session().ResumeToken
}

func (h *Handle) markConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		return false
	}
	h.connected = true
	h.disconnectedAt = time.Time{}
	return true
}

func (h *Handle) markDisconnected(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	h.disconnectedAt = now
}

func (h *Handle) expired(now time.Time, grace, idle time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected && now.Sub(h.disconnectedAt) > grace {
		return true
	}
	return now.Sub(h.Machine.Session().LastSeenAt) > idle
}

// MachineFactory builds the dialog machine for a fresh session.
type MachineFactory func(sess *domain.Session) *dialog.Machine

// Registry tracks every live session. The mutex guards only the index;
// session state itself is owned by each session's connection worker.
type Registry struct {
	cfg     Config
	factory MachineFactory
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	byID    map[string]*Handle
	byToken map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, factory MachineFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		now:     time.Now,
		byID:    make(map[string]*Handle),
		byToken: make(map[string]*Handle),
	}
}

// Accept binds a new connection to a session. A valid resume token
// presented within the grace period re-binds the existing session;
// otherwise a fresh session is created. resumed reports which happened.
// A token whose session is still connected is refused a resume so two
// connections can never share one session.
func (r *Registry) Accept(resumeToken string) (handle *Handle, resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resumeToken != "" {
		if h, ok := r.byToken[resumeToken]; ok {
			if h.markConnected() {
				r.logger.Info("session resumed", "session_id", h.ID)
				return h, true
			}
			r.logger.Warn("resume refused, session already connected", "session_id", h.ID)
		}
	}

	sess := domain.NewSession(uuid.NewString(), uuid.NewString(), r.now())
	h := &Handle{ID: sess.ID, Machine: r.factory(sess)}
	h.markConnected()
	r.byID[h.ID] = h
	r.byToken[sess.ResumeToken] = h
	r.logger.Info("session created", "session_id", h.ID)
	return h, false
}

// Resolve looks up a live session by id.
func (r *Registry) Resolve(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[sessionID]
	return h, ok
}

// Disconnect marks a session's connection as gone, starting the
// reconnect grace period.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	h, ok := r.byID[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.markDisconnected(r.now())
	r.logger.Info("session disconnected, grace period started", "session_id", sessionID, "grace", r.cfg.ReconnectGrace)
}

// Dispose removes a session permanently.
func (r *Registry) Dispose(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	delete(r.byToken, h.Machine.Session().ResumeToken)
	r.logger.Info("session disposed", "session_id", sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// StartSweeper runs a background goroutine that evicts sessions whose
// grace period or idle TTL has expired.
func (r *Registry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("session sweeper started", "interval", r.cfg.SweepInterval, "idle_ttl", r.cfg.IdleTTL)
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-ctx.Done():
				r.logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := r.now()

	r.mu.Lock()
	var expired []*Handle
	for _, h := range r.byID {
		if h.expired(now, r.cfg.ReconnectGrace, r.cfg.IdleTTL) {
			expired = append(expired, h)
		}
	}
	for _, h := range expired {
		delete(r.byID, h.ID)
		delete(r.byToken, h.Machine.Session().ResumeToken)
	}
	r.mu.Unlock()

	for _, h := range expired {
		r.logger.Info("session evicted", "session_id", h.ID)
	}
}
