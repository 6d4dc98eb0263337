package store

import (
	"context"
	"sync"
)

type memSub struct {
	segs      []string
	h         Handler
	last      any
	exists    bool
	cancelled bool
}

type delivery struct {
	sub    *memSub
	value  any
	exists bool
}

// Memory is an in-process Backend. Notifications are delivered in write order,
// outside the lock, and only when the value at the subscribed path changed.
// A handler may write back into the same Memory.
type Memory struct {
	mu       sync.Mutex
	tree     *Tree
	subs     map[*memSub]struct{}
	queue    []delivery
	draining bool
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		tree: NewTree(),
		subs: map[*memSub]struct{}{},
	}
}

func (m *Memory) Set(path string, value any) error {
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.tree.Set(path, v)
	m.collect(SplitPath(path))
	m.mu.Unlock()
	m.drain()
	return nil
}

func (m *Memory) Update(path string, partial map[string]any) error {
	norm := make(map[string]any, len(partial))
	for k, v := range partial {
		nv, err := Normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.tree.Update(path, norm)
	m.collect(SplitPath(path))
	m.mu.Unlock()
	m.drain()
	return nil
}

func (m *Memory) Once(ctx context.Context, path string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.tree.Get(path)
	return v, ok, nil
}

func (m *Memory) On(path string, h Handler) func() {
	sub := &memSub{segs: SplitPath(path), h: h}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	v, ok := m.tree.lookup(sub.segs)
	sub.last, sub.exists = Clone(v), ok
	m.queue = append(m.queue, delivery{sub: sub, value: Clone(v), exists: ok})
	m.mu.Unlock()
	m.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			sub.cancelled = true
			delete(m.subs, sub)
			m.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of every top-level document.
func (m *Memory) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.tree.root))
	for _, k := range m.tree.Keys() {
		v, _ := m.tree.Get(k)
		out[k] = v
	}
	return out
}

// Close rejects further operations and drops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for sub := range m.subs {
		sub.cancelled = true
	}
	m.subs = map[*memSub]struct{}{}
	m.queue = nil
	return nil
}

// collect queues a delivery for every subscriber whose value changed. Caller
// holds m.mu.
func (m *Memory) collect(written []string) {
	for sub := range m.subs {
		if !related(written, sub.segs) {
			continue
		}
		v, ok := m.tree.lookup(sub.segs)
		if ok == sub.exists && Equal(v, sub.last) {
			continue
		}
		sub.last, sub.exists = Clone(v), ok
		m.queue = append(m.queue, delivery{sub: sub, value: Clone(v), exists: ok})
	}
}

func (m *Memory) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		d := m.queue[0]
		m.queue = m.queue[1:]
		if d.sub.cancelled {
			continue
		}
		m.mu.Unlock()
		d.sub.h(d.value, d.exists)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
