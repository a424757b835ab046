// Package relay implements the single-target debugging relay: it buffers
// frontend messages while no backend is attached, drains them into the
// backend when one connects, and forwards live traffic afterwards.
//
// Backend traffic is only logged; there is no path from the backend back to
// any frontend.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/inspectrelay/internal/diag"
	"github.com/philsphicas/inspectrelay/internal/metrics"
	"github.com/philsphicas/inspectrelay/internal/session"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 << 20
)

// ErrNoBackend is returned when a send is attempted with an empty slot.
var ErrNoBackend = errors.New("no backend attached")

// Sender is the write side of a backend connection. typ is the frame type
// the message arrived with and is preserved on the way out.
type Sender interface {
	Send(ctx context.Context, typ websocket.MessageType, msg []byte) error
}

// State is the relay policy state.
type State int

const (
	// NoBackend buffers every frontend message in the pending queue.
	NoBackend State = iota
	// BackendAttached forwards every frontend message immediately.
	BackendAttached
)

func (s State) String() string {
	switch s {
	case NoBackend:
		return "no-backend"
	case BackendAttached:
		return "backend-attached"
	default:
		return "unknown"
	}
}

// Config holds relay parameters.
type Config struct {
	Session *session.Session
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics
	Diag    *diag.Printer    // optional; nil disables traffic lines

	WriteTimeout time.Duration // per backend write; 0 = 10s
	PingInterval time.Duration // WebSocket keepalive; 0 disables
	ReadLimit    int64         // max message size in bytes; 0 = 64 MiB
	MaxFrontends int           // 0 = unlimited
}

// Relay owns the pending queue and the backend slot. All routing decisions
// happen under mu, so an append racing a backend attach is either drained
// or forwarded live, never both and never neither.
type Relay struct {
	cfg Config
	sem *connSemaphore

	mu      sync.Mutex
	pending pendingQueue
	backend Sender
}

// New creates a Relay in the NoBackend state.
func New(cfg Config) *Relay {
	if cfg.Session == nil {
		cfg.Session = session.NewSession()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Relay{
		cfg: cfg,
		sem: newConnSemaphore(cfg.MaxFrontends),
	}
}

// Session returns the session frontends must present.
func (r *Relay) Session() *session.Session {
	return r.cfg.Session
}

// State reports whether a backend currently occupies the slot.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backend == nil {
		return NoBackend
	}
	return BackendAttached
}

// Pending returns the number of buffered frontend messages.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.len()
}

// Deliver applies the relay policy to one frontend message: it is queued
// when no backend is attached and written to the backend otherwise. A
// failed write detaches that backend and queues msg for the next one.
func (r *Relay) Deliver(ctx context.Context, typ websocket.MessageType, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		r.enqueueLocked(typ, msg)
		return nil
	}
	if err := r.sendLocked(ctx, typ, msg); err != nil {
		r.cfg.Metrics.DeliveryError()
		r.cfg.Logger.Warn("backend write failed, buffering until a backend attaches", "error", err)
		r.detachLocked()
		r.enqueueLocked(typ, msg)
		return fmt.Errorf("deliver to backend: %w", err)
	}
	r.cfg.Metrics.MessageHandled(metrics.RoleFrontend, metrics.ActionForwarded, 1)
	return nil
}

// Attach installs b as the backend, replacing any previous occupant without
// closing it, and drains the pending queue into b in order. It returns the
// number of drained messages. If a write fails, b is detached and the
// undelivered messages stay queued.
func (r *Relay) Attach(ctx context.Context, b Sender) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend != nil {
		r.cfg.Logger.Info("replacing attached backend")
	}
	r.backend = b
	r.cfg.Metrics.SetBackendAttached(true)

	n, err := r.pending.drain(func(typ websocket.MessageType, msg []byte) error {
		return r.sendLocked(ctx, typ, msg)
	})
	r.cfg.Metrics.MessageHandled(metrics.RoleFrontend, metrics.ActionDrained, n)
	r.cfg.Metrics.SetPending(r.pending.len())
	if err != nil {
		r.cfg.Metrics.DeliveryError()
		r.detachLocked()
		return n, fmt.Errorf("drain pending messages: %w", err)
	}
	return n, nil
}

// Detach empties the slot if b still occupies it, returning the relay to
// NoBackend. It reports whether the slot changed.
func (r *Relay) Detach(b Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b == nil || r.backend != b {
		return false
	}
	r.detachLocked()
	return true
}

func (r *Relay) detachLocked() {
	r.backend = nil
	r.cfg.Metrics.SetBackendAttached(false)
}

func (r *Relay) enqueueLocked(typ websocket.MessageType, msg []byte) {
	r.pending.push(typ, msg)
	r.cfg.Metrics.MessageHandled(metrics.RoleFrontend, metrics.ActionQueued, 1)
	r.cfg.Metrics.SetPending(r.pending.len())
}

// sendLocked writes msg to the current backend. The write is bounded by
// WriteTimeout but not by ctx cancellation: a frontend hanging up must not
// abort a write on the shared backend socket.
func (r *Relay) sendLocked(ctx context.Context, typ websocket.MessageType, msg []byte) error {
	if r.backend == nil {
		return ErrNoBackend
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()
	return r.backend.Send(ctx, typ, msg)
}
