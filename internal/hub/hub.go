//////////////////////////////////////////////////////////////////////////////
//
// Broadcast Hub: fan out encoded video packets to every connected WebSocket
// client, evicting any client whose write fails.
//
// Unlike a queued pub/sub broadcaster, writes here are synchronous and
// best-effort: there is no per-client buffering and no retransmission. A
// slow client is simply dropped on its next failed write; a freshly
// connected client resumes on the next keyframe.
//
//////////////////////////////////////////////////////////////////////////////

package hub

import (
	"sync"

	"github.com/openkvm-go/kvmd/internal/logging"
)

var log = logging.DefaultLogger.WithTag("hub")

// Client is anything the Hub can push an encoded video packet to. WriteFrame
// is called with the single encoder output to deliver as one binary WebSocket
// message; a non-nil error causes the client to be evicted.
type Client interface {
	// WriteFrame writes one binary message containing p. p must not be
	// retained past the call.
	WriteFrame(p []byte) error
}

// Hub maintains the set of active clients under a single mutex. There is no
// ordering guarantee between clients; within one client, frames are
// delivered in broadcast-call order since Broadcast never returns before
// every write attempt completes.
type Hub struct {
	mu      sync.Mutex
	clients []Client
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{}
}

// Add registers client for future broadcasts.
func (h *Hub) Add(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients = append(h.clients, c)
}

// Remove unregisters client by identity. A no-op if c is not registered.
func (h *Hub) Remove(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c Client) {
	for i, existing := range h.clients {
		if existing == c {
			n := len(h.clients)
			h.clients[i] = h.clients[n-1]
			h.clients[n-1] = nil
			h.clients = h.clients[:n-1]
			return
		}
	}
}

// Len reports the number of currently registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast attempts to deliver p to every registered client as a single
// binary message. Clients whose write fails are evicted from the set; the
// remaining clients are unaffected. Broadcast of frame N completes before
// the caller (the single-threaded video pump) begins capturing frame N+1,
// so no two Broadcast calls ever run concurrently with each other.
func (h *Hub) Broadcast(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var failed []Client
	for _, c := range h.clients {
		if err := c.WriteFrame(p); err != nil {
			failed = append(failed, c)
		}
	}

	if len(failed) == 0 {
		return
	}

	for _, c := range failed {
		h.removeLocked(c)
	}
	log.Warn("evicted %d client(s) after write failure", len(failed))
}
