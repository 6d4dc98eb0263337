package ws

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

const (
	sendBuffer   = 256
	pingInterval = 15 * time.Second
	readLimit    = 1 << 20
)

// Snapshotter persists the relay's top-level documents.
type Snapshotter interface {
	SaveSnapshot(docs map[string]any, at time.Time) error
}

type HubOptions struct {
	Logger        *log.Logger
	Snapshots     Snapshotter
	SnapshotEvery time.Duration
}

// peerConn is one connected peer.
type peerConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

// Hub relays a shared key-path tree to every connected peer. The tree lives
// in a store.Memory, so ordering and change detection match the in-process
// backend exactly.
type Hub struct {
	allowOrigins map[string]bool
	mem          *store.Memory
	opts         HubOptions

	mu      sync.RWMutex
	clients map[*peerConn]struct{}

	dirty atomic.Bool
}

func NewHub(allow []string, mem *store.Memory, opts HubOptions) *Hub {
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 10 * time.Second
	}
	return &Hub{
		allowOrigins: m,
		mem:          mem,
		opts:         opts,
		clients:      map[*peerConn]struct{}{},
	}
}

// Restore loads previously snapshotted documents before peers connect.
func (h *Hub) Restore(docs map[string]any) error {
	for key, value := range docs {
		if err := h.mem.Set(key, value); err != nil {
			return err
		}
	}
	logging.Info(h.opts.Logger, "relay restored", "documents", len(docs))
	return nil
}

// Run snapshots the tree while it changes and once more when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	if h.opts.Snapshots == nil {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(h.opts.SnapshotEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.dirty.Store(true)
			h.snapshot()
			return
		case <-t.C:
			h.snapshot()
		}
	}
}

func (h *Hub) snapshot() {
	if !h.dirty.Swap(false) {
		return
	}
	docs := h.mem.Snapshot()
	if err := h.opts.Snapshots.SaveSnapshot(docs, time.Now()); err != nil {
		h.dirty.Store(true)
		logging.Error(h.opts.Logger, "snapshot failed", "err", err)
		return
	}
	logging.Debug(h.opts.Logger, "snapshot saved", "documents", len(docs))
}

// Clients is the number of connected peers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every peer connection. Peers reconnect on their own.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "relay shutting down")
	}
}

// ---------- websockets ----------

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	c.SetReadLimit(readLimit)

	client := &peerConn{id: randID(), conn: c, send: make(chan []byte, sendBuffer), subs: map[string]func(){}}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	logging.Info(h.opts.Logger, "peer connected", "conn", client.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// writer
	go func() {
		ping := time.NewTicker(pingInterval)
		defer func() { ping.Stop(); _ = c.Close(websocket.StatusNormalClosure, "bye") }()
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-ping.C:
				_ = c.Ping(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	// reader
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		m, err := decode(data)
		if err != nil {
			continue
		}
		h.handle(ctx, client, m)
	}

	// disconnect
	client.mu.Lock()
	client.closed = true
	subs := client.subs
	client.subs = map[string]func(){}
	client.mu.Unlock()
	for _, off := range subs {
		off()
	}

	h.mu.Lock()
	delete(h.clients, client)
	close(client.send)
	h.mu.Unlock()

	logging.Info(h.opts.Logger, "peer disconnected", "conn", client.id)
}

func (h *Hub) handle(ctx context.Context, client *peerConn, m Msg) {
	switch m.T {

	case TSet:
		path := str(m.M, "path")
		if err := h.mem.Set(path, m.M["value"]); err != nil {
			h.sendError(client, "", "SET_FAILED", err)
			return
		}
		h.dirty.Store(true)

	case TUpdate:
		path := str(m.M, "path")
		partial, _ := m.M["partial"].(map[string]interface{})
		if err := h.mem.Update(path, partial); err != nil {
			h.sendError(client, "", "UPDATE_FAILED", err)
			return
		}
		h.dirty.Store(true)

	case TOnce:
		req := str(m.M, "req")
		v, ok, err := h.mem.Once(ctx, str(m.M, "path"))
		if err != nil {
			h.sendError(client, req, "ONCE_FAILED", err)
			return
		}
		h.sendTo(client, Msg{T: TValue, M: map[string]interface{}{"req": req, "value": v, "exists": ok}})

	case TOn:
		sub := str(m.M, "sub")
		path := str(m.M, "path")
		if sub == "" {
			h.sendError(client, "", "BAD_SUB", nil)
			return
		}
		h.off(client, sub)
		off := h.mem.On(path, func(v any, exists bool) {
			h.sendTo(client, Msg{T: TEvent, M: map[string]interface{}{"sub": sub, "value": v, "exists": exists}})
		})
		client.mu.Lock()
		if client.closed {
			client.mu.Unlock()
			off()
			return
		}
		client.subs[sub] = off
		client.mu.Unlock()

	case TOff:
		h.off(client, str(m.M, "sub"))

	case TPing:
		h.sendTo(client, Msg{T: TPong})
	}
}

func (h *Hub) off(client *peerConn, sub string) {
	client.mu.Lock()
	off, ok := client.subs[sub]
	delete(client.subs, sub)
	client.mu.Unlock()
	if ok {
		off()
	}
}

// ---------- helpers ----------

func randID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// sendTo never blocks the tree. A peer too slow to drain its queue is
// disconnected; on reconnect it re-subscribes and gets current values.
func (h *Hub) sendTo(c *peerConn, msg Msg) {
	b, err := encode(msg)
	if err != nil {
		logging.Warn(h.opts.Logger, "encode failed", "conn", c.id, "type", msg.T, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, live := h.clients[c]; !live {
		return
	}
	select {
	case c.send <- b:
	default:
		logging.Warn(h.opts.Logger, "peer too slow, dropping connection", "conn", c.id)
		go func() { _ = c.conn.Close(websocket.StatusPolicyViolation, "send queue full") }()
	}
}

func (h *Hub) sendError(c *peerConn, req, code string, err error) {
	payload := map[string]interface{}{"code": code}
	if req != "" {
		payload["req"] = req
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	h.sendTo(c, Msg{T: TError, M: payload})
}
