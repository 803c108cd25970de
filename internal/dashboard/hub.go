package dashboard

import (
	"sync"

	"github.com/coder/websocket"
)

// clientQueueSize bounds the frames buffered for one client. A client that
// falls further behind is disconnected rather than slowing everyone down.
const clientQueueSize = 64

// client is one websocket peer with its own outbound queue. Frames are
// written by a single pump goroutine, in the order they were queued.
type client struct {
	conn *websocket.Conn
	out  chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		out:  make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue reports false if the client's queue is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// hub is the set of connected clients.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) join(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	return len(h.clients)
}

// leave removes c and reports whether it was still connected.
func (h *hub) leave(c *client) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return len(h.clients), false
	}
	delete(h.clients, c)
	return len(h.clients), true
}

func (h *hub) members() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	return list
}

// clear removes and returns every client.
func (h *hub) clear() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	h.clients = make(map[*client]struct{})
	return list
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
