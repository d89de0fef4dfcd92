package session

import (
	"sync/atomic"

	"github.com/blockwise/colabd/internal/colab/id"
	"github.com/blockwise/colabd/internal/metrics"
)

// outboundQueueSize bounds each member's outbound queue. Under
// backpressure the oldest queued frame is dropped first.
const outboundQueueSize = 64

// Conn is the session-facing half of one client connection: an outbound
// frame queue drained by the transport's write pump, plus the close-time
// bookkeeping the reconnect supervisor relies on.
//
// UserID and WorkspaceID are set once on successful admission and read
// afterwards only from the connection's own read/disconnect path.
type Conn struct {
	ID          string
	UserID      string
	WorkspaceID string

	out     chan []byte
	closeFn func(code int, reason string)

	skipCleanup atomic.Bool
	closed      atomic.Bool
}

// NewConn wraps a transport connection. closeFn asks the transport to
// close with an application-level code; it is invoked at most once.
func NewConn(closeFn func(code int, reason string)) *Conn {
	return &Conn{
		ID:      id.Generate(),
		out:     make(chan []byte, outboundQueueSize),
		closeFn: closeFn,
	}
}

// Authenticated reports whether the connection was admitted.
func (c *Conn) Authenticated() bool {
	return c.UserID != ""
}

// Outbound returns the channel the transport write pump drains.
func (c *Conn) Outbound() <-chan []byte {
	return c.out
}

// Send queues a frame for delivery. When the queue is full the oldest
// queued frame is dropped so fan-out never blocks a mutation.
func (c *Conn) Send(frame []byte) {
	for {
		select {
		case c.out <- frame:
			metrics.WSMessagesTotal.Inc()
			return
		default:
		}
		select {
		case <-c.out:
			metrics.OutboundDroppedTotal.Inc()
		default:
		}
	}
}

// MarkSkipCleanup flags the connection so its disconnect handler leaves
// the member slot and held locks alone (reconnect takeover, kick).
func (c *Conn) MarkSkipCleanup() {
	c.skipCleanup.Store(true)
}

// SkipCleanup reports whether disconnect cleanup is suppressed.
func (c *Conn) SkipCleanup() bool {
	return c.skipCleanup.Load()
}

// Close asks the transport to close the socket. Safe to call multiple
// times; only the first call reaches the transport.
func (c *Conn) Close(code int, reason string) {
	if c.closed.CompareAndSwap(false, true) && c.closeFn != nil {
		c.closeFn(code, reason)
	}
}
