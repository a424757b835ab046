package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/inspectrelay/internal/diag"
	"github.com/philsphicas/inspectrelay/internal/metrics"
)

// wsBackend adapts a backend WebSocket to Sender.
type wsBackend struct {
	ws *websocket.Conn
}

func (b *wsBackend) Send(ctx context.Context, typ websocket.MessageType, msg []byte) error {
	return b.ws.Write(ctx, typ, msg)
}

// acceptOptions skips the same-origin check: debugging frontends connect
// from devtools:// and extension origins that never match the relay host.
var acceptOptions = &websocket.AcceptOptions{InsecureSkipVerify: true}

// ServeFrontend handles a frontend WebSocket for targetID. Connections for
// any target other than the current session are closed without reading or
// writing a message.
func (r *Relay) ServeFrontend(w http.ResponseWriter, req *http.Request, targetID string) {
	logger := r.cfg.Logger.With("role", metrics.RoleFrontend, "remote", req.RemoteAddr)

	ws, err := websocket.Accept(w, req, acceptOptions)
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}
	if !r.cfg.Session.Matches(targetID) {
		logger.Debug("unknown target, closing", "target", targetID)
		r.cfg.Metrics.ConnectionRejected(metrics.RoleFrontend, metrics.StatusRejected)
		_ = ws.CloseNow()
		return
	}
	if !r.sem.tryAcquire(req.Context()) {
		logger.Warn("max frontends reached, closing")
		r.cfg.Metrics.ConnectionRejected(metrics.RoleFrontend, metrics.StatusLimited)
		_ = ws.Close(websocket.StatusTryAgainLater, "too many frontends")
		return
	}
	defer r.sem.release()
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(r.cfg.ReadLimit)

	tracker := r.cfg.Metrics.ConnectionOpened(metrics.RoleFrontend)
	start := time.Now()
	defer func() { tracker.Done(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go keepalive(ctx, ws, r.cfg.PingInterval)

	logger.Info("frontend connected", "state", r.State())
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			r.cfg.Diag.Event(r.cfg.Session.ID(), "disconnected")
			logDisconnect(logger, "frontend disconnected", err)
			return
		}
		r.observe(metrics.RoleFrontend, diag.TagFrontend, data)
		if err := r.Deliver(ctx, typ, data); err != nil {
			logger.Debug("message buffered after failed delivery", "error", err)
		}
	}
}

// ServeBackend handles the backend WebSocket. Any connector is accepted and
// installed as the backend; its messages are logged and never forwarded.
func (r *Relay) ServeBackend(w http.ResponseWriter, req *http.Request) {
	logger := r.cfg.Logger.With("role", metrics.RoleBackend, "remote", req.RemoteAddr)

	ws, err := websocket.Accept(w, req, acceptOptions)
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(r.cfg.ReadLimit)

	tracker := r.cfg.Metrics.ConnectionOpened(metrics.RoleBackend)
	start := time.Now()
	defer func() { tracker.Done(time.Since(start).Seconds()) }()

	b := &wsBackend{ws: ws}
	drained, err := r.Attach(req.Context(), b)
	if err != nil {
		logger.Warn("backend failed while draining pending messages", "drained", drained, "error", err)
		return
	}
	logger.Info("backend attached", "drained", drained)
	defer r.Detach(b)

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go keepalive(ctx, ws, r.cfg.PingInterval)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			r.cfg.Diag.Event(r.cfg.Session.ID(), "disconnected")
			logDisconnect(logger, "backend disconnected", err)
			return
		}
		r.observe(metrics.RoleBackend, diag.TagBackend, data)
		r.cfg.Metrics.MessageHandled(metrics.RoleBackend, metrics.ActionLogged, 1)
	}
}

// observe records and prints one inbound message. Decode failures are
// counted and otherwise ignored.
func (r *Relay) observe(role, tag string, data []byte) {
	r.cfg.Metrics.MessageReceived(role, len(data))
	if err := r.cfg.Diag.Message(tag, data); err != nil {
		r.cfg.Metrics.DecodeError(role)
		r.cfg.Logger.Debug("message is not a protocol message", "role", role, "error", err)
	}
}

func logDisconnect(logger *slog.Logger, msg string, err error) {
	var closeErr websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		logger.Info(msg, "status", closeErr.Code, "reason", closeErr.Reason)
	case errors.Is(err, context.Canceled):
		logger.Info(msg)
	default:
		logger.Info(msg, "error", err)
	}
}
