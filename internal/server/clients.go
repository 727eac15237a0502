package server

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/picam/internal/store"
)

// ClientInfo describes one connected stream client.
type ClientInfo struct {
	ID             string          `json:"id"`
	Transport      store.Transport `json:"transport"`
	RemoteAddr     string          `json:"remote_addr"`
	UserAgent      string          `json:"user_agent"`
	ConnectedAt    time.Time       `json:"connected_at"`
	FramesSent     uint64          `json:"frames_sent"`
	BytesSent      uint64          `json:"bytes_sent"`
	LastGeneration uint64          `json:"last_generation"`
}

// client is the per-connection state. The counters are written by the
// connection's own goroutine and read by /api/clients.
type client struct {
	id          string
	transport   store.Transport
	remoteAddr  string
	userAgent   string
	connectedAt time.Time

	frames  atomic.Uint64
	bytes   atomic.Uint64
	lastGen atomic.Uint64
}

func newClient(r *http.Request, transport store.Transport) *client {
	return &client{
		id:          uuid.NewString(),
		transport:   transport,
		remoteAddr:  r.RemoteAddr,
		userAgent:   r.UserAgent(),
		connectedAt: time.Now(),
	}
}

// sent records one delivered frame.
func (c *client) sent(gen uint64, n int) {
	c.frames.Add(1)
	c.bytes.Add(uint64(n))
	c.lastGen.Store(gen)
}

func (c *client) info() ClientInfo {
	return ClientInfo{
		ID:             c.id,
		Transport:      c.transport,
		RemoteAddr:     c.remoteAddr,
		UserAgent:      c.userAgent,
		ConnectedAt:    c.connectedAt,
		FramesSent:     c.frames.Load(),
		BytesSent:      c.bytes.Load(),
		LastGeneration: c.lastGen.Load(),
	}
}

// registry tracks connected stream clients and enforces the client cap.
type registry struct {
	mu      sync.Mutex
	max     int
	clients map[string]*client
}

func newRegistry(max int) *registry {
	return &registry{
		max:     max,
		clients: make(map[string]*client),
	}
}

// add admits c unless the registry is full.
func (r *registry) add(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.clients) >= r.max {
		return false
	}
	r.clients[c.id] = c
	return true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// list returns the clients ordered by connection time.
func (r *registry) list() []ClientInfo {
	r.mu.Lock()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, c.info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
