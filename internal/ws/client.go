package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

var ErrQueueFull = errors.New("ws: send queue full")

// flushTimeout bounds how long Close waits for queued writes to go out.
const flushTimeout = 2 * time.Second

type DialOptions struct {
	Logger *log.Logger
	// ReconnectBackoff is the fixed delay between reconnect attempts.
	ReconnectBackoff time.Duration
	SendBuffer       int
}

type onceReply struct {
	value  any
	exists bool
	err    error
}

type remoteSub struct {
	path string
	h    store.Handler
}

// Conn is a store.Backend backed by a relay Hub. Writes are queued and never
// block; subscriptions survive reconnects and fire again with the current
// value once the link is back.
type Conn struct {
	url  string
	opts DialOptions

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	send   chan []byte
	// flush asks the live writer to drain send and acknowledge.
	flush     chan chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan onceReply
	subs    map[string]*remoteSub
	online  bool
}

var _ store.Backend = (*Conn)(nil)

// Dial connects to a relay. The first connection must succeed; later drops
// are retried until Close.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = sendBuffer
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	ws.SetReadLimit(readLimit)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:     url,
		opts:    opts,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		send:    make(chan []byte, opts.SendBuffer),
		flush:   make(chan chan struct{}),
		pending: map[string]chan onceReply{},
		subs:    map[string]*remoteSub{},
		online:  true,
	}
	go c.run(ws)
	return c, nil
}

func (c *Conn) run(ws *websocket.Conn) {
	defer close(c.done)
	for {
		c.serve(ws)
		c.failPending(store.ErrUnavailable)
		ws = c.redial()
		if ws == nil {
			return
		}
		logging.Info(c.opts.Logger, "relay reconnected", "url", c.url)
	}
}

func (c *Conn) redial() *websocket.Conn {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectBackoff):
		}
		ws, _, err := websocket.Dial(c.ctx, c.url, nil)
		if err != nil {
			logging.Warn(c.opts.Logger, "relay reconnect failed", "url", c.url, "err", err)
			continue
		}
		ws.SetReadLimit(readLimit)
		return ws
	}
}

// serve runs one connection until it fails.
func (c *Conn) serve(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	// re-issue every live subscription before queued traffic
	c.mu.Lock()
	c.online = true
	var resub [][]byte
	for id, s := range c.subs {
		b, _ := encode(Msg{T: TOn, M: map[string]interface{}{"sub": id, "path": s.path}})
		resub = append(resub, b)
	}
	c.mu.Unlock()
	for _, b := range resub {
		if err := ws.Write(ctx, websocket.MessageText, b); err != nil {
			c.markOffline()
			_ = ws.Close(websocket.StatusInternalError, "resubscribe failed")
			return
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case msg := <-c.send:
				if err := ws.Write(ctx, websocket.MessageText, msg); err != nil {
					cancel()
					return
				}
			case ack := <-c.flush:
				err := c.drain(ctx, ws)
				close(ack)
				if err != nil {
					cancel()
					return
				}
			case <-ping.C:
				_ = ws.Ping(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				logging.Warn(c.opts.Logger, "relay connection lost", "url", c.url, "err", err)
			}
			break
		}
		m, err := decode(data)
		if err != nil {
			continue
		}
		c.dispatch(m)
	}
	c.markOffline()
	cancel()
	<-writerDone
	_ = ws.Close(websocket.StatusNormalClosure, "bye")
}

// drain writes everything queued so far. Called by the writer only.
func (c *Conn) drain(ctx context.Context, ws *websocket.Conn) error {
	for {
		select {
		case msg := <-c.send:
			if err := ws.Write(ctx, websocket.MessageText, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Conn) markOffline() {
	c.mu.Lock()
	c.online = false
	c.mu.Unlock()
}

func (c *Conn) dispatch(m Msg) {
	switch m.T {
	case TEvent:
		c.mu.Lock()
		s, ok := c.subs[str(m.M, "sub")]
		c.mu.Unlock()
		if !ok {
			return
		}
		exists, _ := m.M["exists"].(bool)
		s.h(m.M["value"], exists)

	case TValue:
		exists, _ := m.M["exists"].(bool)
		c.reply(str(m.M, "req"), onceReply{value: m.M["value"], exists: exists})

	case TError:
		err := fmt.Errorf("ws: relay error %s: %s", str(m.M, "code"), str(m.M, "error"))
		if req := str(m.M, "req"); req != "" {
			c.reply(req, onceReply{err: err})
			return
		}
		logging.Warn(c.opts.Logger, "relay rejected write", "err", err)
	}
}

func (c *Conn) reply(req string, r onceReply) {
	c.mu.Lock()
	ch, ok := c.pending[req]
	delete(c.pending, req)
	c.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan onceReply{}
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- onceReply{err: err}
	}
}

func (c *Conn) id() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 36)
}

func (c *Conn) enqueue(msg Msg) error {
	if c.ctx.Err() != nil {
		return store.ErrClosed
	}
	b, err := encode(msg)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", msg.T, err)
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) Set(path string, value any) error {
	v, err := store.Normalize(value)
	if err != nil {
		return err
	}
	return c.enqueue(Msg{T: TSet, M: map[string]interface{}{"path": path, "value": v}})
}

func (c *Conn) Update(path string, partial map[string]any) error {
	norm := make(map[string]interface{}, len(partial))
	for k, v := range partial {
		nv, err := store.Normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}
	return c.enqueue(Msg{T: TUpdate, M: map[string]interface{}{"path": path, "partial": norm}})
}

// Once fails fast with store.ErrUnavailable while the link is down, so
// callers can use their bounded retry.
func (c *Conn) Once(ctx context.Context, path string) (any, bool, error) {
	ch := make(chan onceReply, 1)
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		if c.ctx.Err() != nil {
			return nil, false, store.ErrClosed
		}
		return nil, false, store.ErrUnavailable
	}
	req := c.id()
	c.pending[req] = ch
	c.mu.Unlock()

	if err := c.enqueue(Msg{T: TOnce, M: map[string]interface{}{"req": req, "path": path}}); err != nil {
		c.mu.Lock()
		delete(c.pending, req)
		c.mu.Unlock()
		return nil, false, err
	}
	select {
	case r := <-ch:
		return r.value, r.exists, r.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req)
		c.mu.Unlock()
		return nil, false, ctx.Err()
	case <-c.done:
		return nil, false, store.ErrClosed
	}
}

func (c *Conn) On(path string, h store.Handler) func() {
	c.mu.Lock()
	id := c.id()
	c.subs[id] = &remoteSub{path: path, h: h}
	c.mu.Unlock()
	if err := c.enqueue(Msg{T: TOn, M: map[string]interface{}{"sub": id, "path": path}}); err != nil {
		logging.Warn(c.opts.Logger, "subscribe not sent", "path", path, "err", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			_ = c.enqueue(Msg{T: TOff, M: map[string]interface{}{"sub": id}})
		})
	}
}

// Close flushes queued writes, bounded by flushTimeout, then stops
// reconnecting and waits for the connection loop to exit. Writes queued while
// the link is down are dropped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.flushQueued()
		c.cancel()
		<-c.done
		c.failPending(store.ErrClosed)
	})
	return nil
}

func (c *Conn) flushQueued() {
	c.mu.Lock()
	online := c.online
	c.mu.Unlock()
	if !online {
		return
	}
	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()
	ack := make(chan struct{})
	select {
	case c.flush <- ack:
	case <-timer.C:
		logging.Warn(c.opts.Logger, "relay flush timed out", "url", c.url, "queued", len(c.send))
		return
	case <-c.done:
		return
	}
	select {
	case <-ack:
	case <-timer.C:
		logging.Warn(c.opts.Logger, "relay flush timed out", "url", c.url, "queued", len(c.send))
	case <-c.done:
	}
}
