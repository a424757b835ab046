package relay

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

const pingTimeout = 10 * time.Second

// keepalive sends periodic WebSocket pings until ctx is done. Failures are
// ignored; the connection's read loop observes a dead peer.
func keepalive(ctx context.Context, ws *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			_ = ws.Ping(pingCtx)
			cancel()
		}
	}
}

// connSemaphore limits concurrent frontend connections. A nil channel (from
// newConnSemaphore(0)) imposes no limit.
type connSemaphore struct {
	ch chan struct{}
}

func newConnSemaphore(max int) *connSemaphore {
	if max <= 0 {
		return &connSemaphore{}
	}
	return &connSemaphore{ch: make(chan struct{}, max)}
}

func (s *connSemaphore) tryAcquire(ctx context.Context) bool {
	if s.ch == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

func (s *connSemaphore) release() {
	if s.ch == nil {
		return
	}
	<-s.ch
}
