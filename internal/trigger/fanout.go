// Package trigger broadcasts named boolean flags (a sensor that fired, a
// switch that was pulled) to any number of listeners. Triggers have no owner:
// whoever writes last wins.
package trigger

import (
	"log"
	"sort"
	"sync"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

// Toggler is anything a trigger switches: bars, shields, bridges.
type Toggler interface {
	SetEnabled(on bool)
}

type Listener struct {
	f  *Fanout
	id string
	fn func(bool)
}

type channel struct {
	sub       *store.Subscription
	triggered bool
	known     bool
	listeners map[*Listener]struct{}
}

// Fanout keeps one store subscription per trigger path and a local mirror of
// its state.
type Fanout struct {
	client *store.Client
	logger *log.Logger

	mu       sync.Mutex
	channels map[string]*channel
	watchers map[string]*Listener
}

func New(client *store.Client, logger *log.Logger) *Fanout {
	return &Fanout{
		client:   client,
		logger:   logger,
		channels: map[string]*channel{},
		watchers: map[string]*Listener{},
	}
}

func (f *Fanout) Set(id string, triggered bool) error {
	return f.client.SetPath(model.TriggerPath(id), model.TriggerDoc{Triggered: triggered})
}

func (f *Fanout) Fire(id string) error { return f.Set(id, true) }

// Listen calls fn with the current state as soon as it is known, then on every
// change. Listeners attached after the flag was set still see it.
func (f *Fanout) Listen(id string, fn func(bool)) *Listener {
	l := &Listener{f: f, id: id, fn: fn}
	f.mu.Lock()
	ch, ok := f.channels[id]
	if !ok {
		ch = &channel{listeners: map[*Listener]struct{}{}}
		f.channels[id] = ch
	}
	ch.listeners[l] = struct{}{}
	known, state := ch.known, ch.triggered
	f.mu.Unlock()

	if !ok {
		sub := f.client.Subscribe(model.TriggerPath(id), func(v any, exists bool) {
			f.observe(id, v, exists, false)
		})
		f.mu.Lock()
		if cur, live := f.channels[id]; live && cur == ch {
			ch.sub = sub
			sub = nil
		}
		f.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		return l
	}
	if known {
		fn(state)
	}
	return l
}

// Seed applies a value read outside the subscription, such as a GetOnce, when
// the subscription has not delivered yet. Later deliveries win as usual.
func (f *Fanout) Seed(id string, v any, exists bool) {
	f.observe(id, v, exists, true)
}

func (f *Fanout) observe(id string, v any, exists, seed bool) {
	var doc model.TriggerDoc
	if exists {
		var err error
		doc, err = model.DecodeTrigger(v)
		if err != nil {
			logging.Warn(f.logger, "ignoring malformed trigger", "trigger", id, "err", err)
			return
		}
	}
	f.mu.Lock()
	ch, ok := f.channels[id]
	if !ok {
		f.mu.Unlock()
		return
	}
	first := !ch.known
	if seed && !first {
		f.mu.Unlock()
		return
	}
	changed := first || ch.triggered != doc.Triggered
	ch.known, ch.triggered = true, doc.Triggered
	listeners := make([]*Listener, 0, len(ch.listeners))
	for l := range ch.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	if !changed {
		return
	}
	logging.Debug(f.logger, "trigger", "trigger", id, "triggered", doc.Triggered)
	for _, l := range listeners {
		l.fn(doc.Triggered)
	}
}

// Triggered reads the local mirror. Unknown triggers read as false.
func (f *Fanout) Triggered(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	return ok && ch.triggered
}

// State reads the local mirror and whether it holds a delivered value yet.
func (f *Fanout) State(id string) (triggered, known bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return false, false
	}
	return ch.triggered, ch.known
}

// Watch keeps the mirror of id current without a callback. Repeated calls
// share one listener.
func (f *Fanout) Watch(id string) {
	f.mu.Lock()
	_, ok := f.watchers[id]
	f.mu.Unlock()
	if ok {
		return
	}
	l := f.Listen(id, func(bool) {})
	f.mu.Lock()
	if _, raced := f.watchers[id]; raced {
		f.mu.Unlock()
		l.Close()
		return
	}
	f.watchers[id] = l
	f.mu.Unlock()
}

// Bind switches t with the trigger state.
func (f *Fanout) Bind(id string, t Toggler) *Listener {
	return f.Listen(id, t.SetEnabled)
}

// IDs lists triggers with at least one listener.
func (f *Fanout) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close detaches the listener. The store subscription goes away with the last one.
func (l *Listener) Close() {
	if l == nil {
		return
	}
	f := l.f
	f.mu.Lock()
	ch, ok := f.channels[l.id]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(ch.listeners, l)
	if f.watchers[l.id] == l {
		delete(f.watchers, l.id)
	}
	var sub *store.Subscription
	if len(ch.listeners) == 0 {
		delete(f.channels, l.id)
		sub = ch.sub
	}
	f.mu.Unlock()
	sub.Cancel()
}
