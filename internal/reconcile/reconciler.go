// Package reconcile applies remote snapshots to the local shadows of entities
// controlled elsewhere.
package reconcile

import (
	"log"
	"math"
	"sync"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

const (
	DefaultPositionEpsilon = 1.0
	DefaultRotationEpsilon = 0.5
	DefaultConvergenceRate = 0.2
)

// Controllers answers whether the local peer drives an object.
type Controllers interface {
	IsLocalController(ref model.Ref) bool
}

// LifeSetter is implemented by bodies that carry health.
type LifeSetter interface {
	SetLife(life int)
}

type Options struct {
	// PositionEpsilon and RotationEpsilon gate snap applies for bodies.
	PositionEpsilon float64
	RotationEpsilon float64
	// ConvergenceRate is the fraction of the remaining distance an avatar
	// covers each tick.
	ConvergenceRate float64
	// Characters maps skin names to indices.
	Characters []string
	Logger     *log.Logger
}

// Shadow is the reconciled copy of a body the local peer does not control.
type Shadow struct {
	Transform    model.Transform
	HasTransform bool
	Life         int
	HasLife      bool
	Active       *bool
	IsFalling    *bool
	IsRespawn    *bool
	Status       string
	Controller   string
	// Applied counts snapshots that changed something.
	Applied int
}

type bodyState struct {
	body    physics.Body
	shadow  Shadow
	pending *model.ObjectDoc
	sub     *store.Subscription
	// local is the controllership seen by the previous Tick.
	local bool
}

// Reconciler is driven from the simulation loop and is not safe for
// concurrent use; store callbacks must be dispatched onto the same loop.
// Online is the exception and may be called from any goroutine.
type Reconciler struct {
	client  *store.Client
	ctl     Controllers
	localID string
	opts    Options

	bodies    map[model.Ref]*bodyState
	avatars   map[string]*Avatar
	playerSub *store.Subscription

	// online mirrors Avatar.Online for readers off the loop.
	onlineMu sync.Mutex
	online   map[string]bool
}

func New(client *store.Client, ctl Controllers, localID string, opts Options) *Reconciler {
	if opts.PositionEpsilon <= 0 {
		opts.PositionEpsilon = DefaultPositionEpsilon
	}
	if opts.RotationEpsilon <= 0 {
		opts.RotationEpsilon = DefaultRotationEpsilon
	}
	if opts.ConvergenceRate <= 0 || opts.ConvergenceRate > 1 {
		opts.ConvergenceRate = DefaultConvergenceRate
	}
	return &Reconciler{
		client:  client,
		ctl:     ctl,
		localID: localID,
		opts:    opts,
		bodies:  map[model.Ref]*bodyState{},
		avatars: map[string]*Avatar{},
		online:  map[string]bool{},
	}
}

// Subscribe starts reconciling ref into body.
func (r *Reconciler) Subscribe(ref model.Ref, body physics.Body) {
	if _, ok := r.bodies[ref]; ok {
		return
	}
	st := &bodyState{body: body}
	r.bodies[ref] = st
	st.sub = r.client.Subscribe(ref.Path(), func(v any, exists bool) {
		r.stage(ref, v, exists)
	})
}

// Unsubscribe stops reconciling ref; staged snapshots are dropped.
func (r *Reconciler) Unsubscribe(ref model.Ref) {
	st, ok := r.bodies[ref]
	if !ok {
		return
	}
	st.sub.Cancel()
	delete(r.bodies, ref)
}

// Shadow returns the reconciled state of ref.
func (r *Reconciler) Shadow(ref model.Ref) (Shadow, bool) {
	st, ok := r.bodies[ref]
	if !ok {
		return Shadow{}, false
	}
	return st.shadow, true
}

// Reset forgets the reconciled values of ref so the next snapshot applies in
// full. While the local peer controlled ref its own writes were never folded
// into the shadow, so the shadow is stale once control moves away.
func (r *Reconciler) Reset(ref model.Ref) {
	if st, ok := r.bodies[ref]; ok {
		r.reset(st)
	}
}

func (r *Reconciler) reset(st *bodyState) {
	sh := &st.shadow
	sh.HasTransform, sh.HasLife = false, false
	sh.Active, sh.IsFalling, sh.IsRespawn = nil, nil, nil
	sh.Status = ""
}

func (r *Reconciler) stage(ref model.Ref, v any, exists bool) {
	st, ok := r.bodies[ref]
	if !ok || !exists {
		return
	}
	if r.ctl.IsLocalController(ref) {
		// echo of our own writes
		return
	}
	doc, err := model.DecodeObject(v)
	if err != nil {
		logging.Debug(r.opts.Logger, "ignoring malformed fields", "object", ref, "err", err)
	}
	st.pending = &doc
}

// Tick applies at most one staged snapshot per object and advances avatar
// interpolation. Coalescing means no object ever has two controllers'
// transforms applied within one tick.
func (r *Reconciler) Tick() {
	for ref, st := range r.bodies {
		local := r.ctl.IsLocalController(ref)
		if st.local && !local {
			r.reset(st)
		}
		st.local = local
		if st.pending == nil {
			continue
		}
		doc := st.pending
		st.pending = nil
		if local {
			continue
		}
		r.apply(st, doc)
	}
	for _, a := range r.avatars {
		a.step(r.opts.ConvergenceRate)
	}
}

func (r *Reconciler) apply(st *bodyState, doc *model.ObjectDoc) {
	sh := &st.shadow
	changed := false

	if doc.Position != nil {
		p := *doc.Position
		if !sh.HasTransform || r.moved(sh.Transform, p) {
			sh.Transform, sh.HasTransform = p, true
			if st.body != nil {
				st.body.SetKinematic(true)
				st.body.SetTransform(p)
			}
			changed = true
		}
	}
	if doc.Life != nil && (!sh.HasLife || sh.Life != *doc.Life) {
		sh.Life, sh.HasLife = *doc.Life, true
		if ls, ok := st.body.(LifeSetter); ok {
			ls.SetLife(sh.Life)
		}
		changed = true
	}
	changed = setFlag(&sh.Active, doc.Active) || changed
	changed = setFlag(&sh.IsFalling, doc.IsFalling) || changed
	changed = setFlag(&sh.IsRespawn, doc.IsRespawn) || changed
	if doc.Status != "" && doc.Status != sh.Status {
		sh.Status = doc.Status
		changed = true
	}
	if doc.ControllerID != sh.Controller {
		sh.Controller = doc.ControllerID
	}
	if changed {
		sh.Applied++
	}
}

func (r *Reconciler) moved(prev, next model.Transform) bool {
	return math.Abs(next.X-prev.X) > r.opts.PositionEpsilon ||
		math.Abs(next.Y-prev.Y) > r.opts.PositionEpsilon ||
		math.Abs(next.Rotation-prev.Rotation) > r.opts.RotationEpsilon
}

func setFlag(dst **bool, src *bool) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}
