package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryBackoff  = 500 * time.Millisecond
)

type Options struct {
	// Dispatch schedules subscription callbacks. Defaults to Immediate.
	Dispatch Dispatcher
	Logger   *log.Logger
	// RetryAttempts and RetryBackoff bound GetOnceRetry.
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Client is the handle every component receives. It may be created before a
// backend exists; see Attach.
type Client struct {
	mu       sync.Mutex
	backend  Backend
	subs     map[*Subscription]struct{}
	dispatch Dispatcher
	logger   *log.Logger
	attempts int
	backoff  time.Duration
}

// Subscription is a live handler on one path.
type Subscription struct {
	c      *Client
	path   string
	h      Handler
	cancel func()
	closed atomic.Bool
}

func NewClient(backend Backend, opts Options) *Client {
	c := &Client{
		subs:     map[*Subscription]struct{}{},
		dispatch: opts.Dispatch,
		logger:   opts.Logger,
		attempts: opts.RetryAttempts,
		backoff:  opts.RetryBackoff,
	}
	if c.dispatch == nil {
		c.dispatch = Immediate
	}
	if c.attempts <= 0 {
		c.attempts = DefaultRetryAttempts
	}
	if c.backoff <= 0 {
		c.backoff = DefaultRetryBackoff
	}
	if backend != nil {
		c.Attach(backend)
	}
	return c
}

// Attach installs (or replaces) the backend and (re)installs every live
// subscription on it. Each re-installed subscription fires with the current value.
func (c *Client) Attach(b Backend) {
	c.mu.Lock()
	c.backend = b
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.install(b)
	}
}

func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend != nil
}

func (c *Client) current() Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// SetPath overwrites path. Writes are fire-and-forget: failures are logged and
// returned but never retried.
func (c *Client) SetPath(path string, value any) error {
	b := c.current()
	if b == nil {
		logging.Warn(c.logger, "store write dropped", "op", "set", "path", path, "err", ErrUnavailable)
		return ErrUnavailable
	}
	if err := b.Set(path, value); err != nil {
		logging.Warn(c.logger, "store write failed", "op", "set", "path", path, "err", err)
		return err
	}
	return nil
}

// UpdatePath shallow-merges partial into path.
func (c *Client) UpdatePath(path string, partial map[string]any) error {
	b := c.current()
	if b == nil {
		logging.Warn(c.logger, "store write dropped", "op", "update", "path", path, "err", ErrUnavailable)
		return ErrUnavailable
	}
	if err := b.Update(path, partial); err != nil {
		logging.Warn(c.logger, "store write failed", "op", "update", "path", path, "err", err)
		return err
	}
	return nil
}

// GetOnce reads path a single time.
func (c *Client) GetOnce(ctx context.Context, path string) (any, bool, error) {
	b := c.current()
	if b == nil {
		return nil, false, ErrUnavailable
	}
	return b.Once(ctx, path)
}

// GetOnceRetry retries GetOnce while the store is unavailable, with a fixed
// attempt cap and a fixed delay. Exhaustion is logged and ErrUnavailable is
// returned so callers fall back to their last known local state.
func (c *Client) GetOnceRetry(ctx context.Context, path string) (any, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		v, ok, err := c.GetOnce(ctx, path)
		if err == nil {
			return v, ok, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return nil, false, err
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	logging.Warn(c.logger, "store read gave up", "path", path, "attempts", c.attempts, "err", lastErr)
	return nil, false, ErrUnavailable
}

// Subscribe installs h on path. h runs through the dispatcher, first with the
// current value, then on every change. A subscription made before a backend
// is attached starts delivering on Attach.
func (c *Client) Subscribe(path string, h Handler) *Subscription {
	s := &Subscription{c: c, path: path, h: h}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	b := c.backend
	c.mu.Unlock()
	if b != nil {
		s.install(b)
	}
	return s
}

// Unsubscribe cancels every subscription on path.
func (c *Client) Unsubscribe(path string) {
	c.mu.Lock()
	var matched []*Subscription
	for s := range c.subs {
		if JoinPath(s.path) == JoinPath(path) {
			matched = append(matched, s)
		}
	}
	c.mu.Unlock()
	for _, s := range matched {
		s.Cancel()
	}
}

func (s *Subscription) install(b Backend) {
	s.c.mu.Lock()
	prev := s.cancel
	s.cancel = nil
	s.c.mu.Unlock()
	if prev != nil {
		prev()
	}
	if s.closed.Load() {
		return
	}
	cancel := b.On(s.path, func(value any, exists bool) {
		s.c.dispatch(func() {
			if s.closed.Load() {
				return
			}
			s.h(value, exists)
		})
	})
	s.c.mu.Lock()
	if s.closed.Load() {
		s.c.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.c.mu.Unlock()
}

func (s *Subscription) Path() string { return s.path }

// Cancel stops delivery immediately, including callbacks already queued on
// the dispatcher.
func (s *Subscription) Cancel() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.c.mu.Lock()
	delete(s.c.subs, s)
	cancel := s.cancel
	s.cancel = nil
	s.c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
