package peer

import (
	"sync"
	"time"
)

// Loop is the single cooperative scheduler of a peer. Store callbacks, the
// simulation tick and every mutation of loop-owned state run on it in order.
type Loop struct {
	tick   time.Duration
	onTick func(now time.Time)
	now    func() time.Time

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func NewLoop(tick time.Duration, onTick func(now time.Time), now func() time.Time) *Loop {
	if now == nil {
		now = time.Now
	}
	return &Loop{
		tick:   tick,
		onTick: onTick,
		now:    now,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post queues fn. It never blocks, so it is safe from any goroutine,
// including the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop. After Stop it returns without running fn.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Drain runs everything queued so far.
func (l *Loop) Drain() {
	for {
		l.mu.Lock()
		q := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

func (l *Loop) Run() {
	defer close(l.done)
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			l.Drain()
			return
		case <-l.wake:
			l.Drain()
		case <-ticker.C:
			l.Drain()
			if l.onTick != nil {
				l.onTick(l.now())
			}
		}
	}
}

func (l *Loop) Stop() {
	l.stopped.Do(func() { close(l.quit) })
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} { return l.done }
