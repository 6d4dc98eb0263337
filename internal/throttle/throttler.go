// Package throttle rate-limits and dedupes outbound writes of transform and
// health state. Only the local controller of an object should push.
package throttle

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

const (
	DefaultPositionThreshold = 0.5
	DefaultRotationThreshold = 1.0

	// ItemInterval and EggInterval are the fixed cadences of PushIfDue callers.
	ItemInterval = 100 * time.Millisecond
	EggInterval  = 50 * time.Millisecond
)

// Writer is the part of store.Client the throttler needs.
type Writer interface {
	UpdatePath(path string, partial map[string]any) error
}

type Options struct {
	PositionThreshold float64
	RotationThreshold float64
	Now               func() time.Time
	Logger            *log.Logger
}

type sent struct {
	transform    model.Transform
	hasTransform bool
	life         int
	hasLife      bool
	fields       map[string]any
}

// Throttler is driven from the simulation tick and is not safe for concurrent use.
type Throttler struct {
	w     Writer
	opts  Options
	due   *Interval
	cache map[model.Ref]*sent
}

func New(w Writer, opts Options) *Throttler {
	if opts.PositionThreshold <= 0 {
		opts.PositionThreshold = DefaultPositionThreshold
	}
	if opts.RotationThreshold <= 0 {
		opts.RotationThreshold = DefaultRotationThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Throttler{
		w:     w,
		opts:  opts,
		due:   NewInterval(0, opts.Now),
		cache: map[model.Ref]*sent{},
	}
}

func (t *Throttler) entry(ref model.Ref) *sent {
	e, ok := t.cache[ref]
	if !ok {
		e = &sent{fields: map[string]any{}}
		t.cache[ref] = e
	}
	return e
}

// exceeds reports whether next moved past the thresholds relative to prev.
func (t *Throttler) exceeds(prev, next model.Transform) bool {
	return math.Abs(next.X-prev.X) > t.opts.PositionThreshold ||
		math.Abs(next.Y-prev.Y) > t.opts.PositionThreshold ||
		math.Abs(next.Rotation-prev.Rotation) > t.opts.RotationThreshold
}

// PushTransform writes snap when it moved past the thresholds relative to the
// last sent snapshot. It reports whether a write was issued.
func (t *Throttler) PushTransform(ref model.Ref, snap model.Transform) bool {
	e := t.entry(ref)
	if e.hasTransform && !t.exceeds(e.transform, snap) {
		return false
	}
	if !t.writeTransform(ref, snap.Rounded()) {
		return false
	}
	e.transform, e.hasTransform = snap, true
	t.due.Mark(ref.Path())
	return true
}

// PushIfDue writes snap at most once per interval, and only when its rounded
// value differs from the last one sent.
func (t *Throttler) PushIfDue(ref model.Ref, snap model.Transform, interval time.Duration) bool {
	if !t.due.DueAfter(ref.Path(), interval) {
		return false
	}
	e := t.entry(ref)
	rounded := snap.Rounded()
	if e.hasTransform && e.transform.Rounded() == rounded {
		return false
	}
	if !t.writeTransform(ref, rounded) {
		return false
	}
	e.transform, e.hasTransform = snap, true
	t.due.Mark(ref.Path())
	return true
}

func (t *Throttler) writeTransform(ref model.Ref, rounded model.Transform) bool {
	return t.issued(ref, t.w.UpdatePath(ref.Path(), map[string]any{model.FieldPosition: rounded.Fields()}))
}

// PushLife writes life whenever it differs from the last synced value,
// ignoring every interval.
func (t *Throttler) PushLife(ref model.Ref, life int) bool {
	e := t.entry(ref)
	if e.hasLife && e.life == life {
		return false
	}
	if !t.issued(ref, t.w.UpdatePath(ref.Path(), map[string]any{model.FieldLife: life})) {
		return false
	}
	e.life, e.hasLife = life, true
	return true
}

// PushFields writes flag fields (active, isFalling, status, ...) that differ
// from their last synced value.
func (t *Throttler) PushFields(ref model.Ref, fields map[string]any) bool {
	e := t.entry(ref)
	changed := map[string]any{}
	for k, v := range fields {
		if last, ok := e.fields[k]; ok && store.Equal(last, v) {
			continue
		}
		changed[k] = v
	}
	if len(changed) == 0 {
		return false
	}
	if !t.issued(ref, t.w.UpdatePath(ref.Path(), changed)) {
		return false
	}
	for k, v := range changed {
		e.fields[k] = v
	}
	return true
}

// SeedLife records life as already synced, e.g. after reading it from the store.
func (t *Throttler) SeedLife(ref model.Ref, life int) {
	e := t.entry(ref)
	e.life, e.hasLife = life, true
}

// Forget drops everything cached for ref so the next push writes.
func (t *Throttler) Forget(ref model.Ref) {
	delete(t.cache, ref)
	t.due.Forget(ref.Path())
}

// issued reports whether a write left the peer. Writes are fire-and-forget,
// so only a write that never reached a backend leaves the cache untouched.
func (t *Throttler) issued(ref model.Ref, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrUnavailable) {
		return false
	}
	logging.Debug(t.opts.Logger, "push failed", "object", ref, "err", err)
	return true
}
