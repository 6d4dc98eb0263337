// Package world holds the synchronized entities of a level and runs their
// per-tick sync: controllers push through the throttler, everyone else
// reconciles.
package world

import (
	"context"
	"log"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/ownership"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/reconcile"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/throttle"
)

// Arbiter is an arbitrator whose mirror can be scoped to the level's objects.
type Arbiter interface {
	ownership.Arbitrator
	Watch(ref model.Ref)
	Unwatch(ref model.Ref)
}

type Options struct {
	// Claim schedules a claim attempt. The default claims inline.
	Claim  func(ref model.Ref)
	Logger *log.Logger
}

// World is driven from the simulation loop and is not safe for concurrent use.
type World struct {
	localID  string
	client   *store.Client
	arb      Arbiter
	thr      *throttle.Throttler
	rec      *reconcile.Reconciler
	contacts *ownership.Contacts
	opts     Options

	order     []model.Ref
	bodies    map[model.Ref]physics.Body
	local     map[model.Ref]bool
	dropboxes map[model.Ref]*Dropbox
	eggs      map[model.Ref]*Egg
	items     map[model.Ref]*Item
}

func New(localID string, client *store.Client, arb Arbiter, thr *throttle.Throttler, rec *reconcile.Reconciler, opts Options) *World {
	w := &World{
		localID:   localID,
		client:    client,
		arb:       arb,
		thr:       thr,
		rec:       rec,
		contacts:  ownership.NewContacts(),
		opts:      opts,
		bodies:    map[model.Ref]physics.Body{},
		local:     map[model.Ref]bool{},
		dropboxes: map[model.Ref]*Dropbox{},
		eggs:      map[model.Ref]*Egg{},
		items:     map[model.Ref]*Item{},
	}
	if w.opts.Claim == nil {
		w.opts.Claim = w.claim
	}
	return w
}

func (w *World) add(ref model.Ref, body physics.Body) {
	if _, ok := w.bodies[ref]; ok {
		return
	}
	w.order = append(w.order, ref)
	w.bodies[ref] = body
	// shadows until claimed
	body.SetKinematic(true)
	w.arb.Watch(ref)
	w.rec.Subscribe(ref, body)
}

func (w *World) AddBox(id string, body physics.Body) model.Ref {
	ref := model.NewRef(model.CategoryBoxes, id)
	w.add(ref, body)
	return ref
}

func (w *World) AddDropbox(id string, body physics.Body) *Dropbox {
	d := &Dropbox{Body: body, Ref: model.NewRef(model.CategoryDropboxes, id)}
	w.dropboxes[d.Ref] = d
	w.add(d.Ref, d)
	return d
}

func (w *World) AddItem(id string, body physics.Body) *Item {
	it := &Item{Body: body, Ref: model.NewRef(model.CategoryItems, id), client: w.client}
	w.items[it.Ref] = it
	it.watch()
	w.add(it.Ref, it)
	return it
}

func (w *World) AddEgg(id string, body physics.Body, maxLife int) *Egg {
	e := &Egg{
		Body:    body,
		Ref:     model.NewRef(model.CategoryEggs, id),
		MaxLife: maxLife,
		Spawn:   body.Transform(),
		life:    maxLife,
	}
	w.eggs[e.Ref] = e
	w.add(e.Ref, e)
	return e
}

// Remove stops syncing ref.
func (w *World) Remove(ref model.Ref) {
	if _, ok := w.bodies[ref]; !ok {
		return
	}
	w.rec.Unsubscribe(ref)
	w.arb.Unwatch(ref)
	w.thr.Forget(ref)
	if it, ok := w.items[ref]; ok {
		it.sub.Cancel()
	}
	delete(w.bodies, ref)
	delete(w.local, ref)
	delete(w.dropboxes, ref)
	delete(w.eggs, ref)
	delete(w.items, ref)
	for i, r := range w.order {
		if r == ref {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

func (w *World) Body(ref model.Ref) (physics.Body, bool) {
	b, ok := w.bodies[ref]
	return b, ok
}

func (w *World) Egg(id string) (*Egg, bool) {
	e, ok := w.eggs[model.NewRef(model.CategoryEggs, id)]
	return e, ok
}

func (w *World) Item(id string) (*Item, bool) {
	it, ok := w.items[model.NewRef(model.CategoryItems, id)]
	return it, ok
}

func (w *World) Refs() []model.Ref {
	return append([]model.Ref(nil), w.order...)
}

func (w *World) Contacts() *ownership.Contacts { return w.contacts }

// HandleContacts feeds engine contact events into claims and fall tracking.
// Only a begin contact between the local player and an object it does not
// control is a qualifying claim event.
func (w *World) HandleContacts(events []physics.ContactEvent) {
	for _, ev := range events {
		if _, ok := w.bodies[ev.Object]; !ok {
			continue
		}
		if ev.Ground {
			w.ground(ev)
			continue
		}
		if ev.Player == "" {
			continue
		}
		switch ev.Phase {
		case physics.ContactBegin:
			fresh := w.contacts.Begin(ev.Object, ev.Player)
			if fresh && ev.Player == w.localID && !w.arb.IsLocalController(ev.Object) {
				w.opts.Claim(ev.Object)
			}
		case physics.ContactEnd:
			w.contacts.End(ev.Object, ev.Player)
		}
	}
}

// ground tracks falls of controlled eggs and dropboxes. Remote copies learn
// about falls through their shadows.
func (w *World) ground(ev physics.ContactEvent) {
	if !w.arb.IsLocalController(ev.Object) {
		return
	}
	if e, ok := w.eggs[ev.Object]; ok {
		switch ev.Phase {
		case physics.ContactEnd:
			e.beginFall()
		case physics.ContactBegin:
			if dmg := e.land(); dmg > 0 {
				logging.Info(w.opts.Logger, "egg damaged", "egg", e.Ref, "damage", dmg, "life", e.life)
			}
			if e.life == 0 {
				logging.Info(w.opts.Logger, "egg broke", "egg", e.Ref)
				e.Respawn()
			}
		}
		return
	}
	if d, ok := w.dropboxes[ev.Object]; ok {
		d.falling = ev.Phase == physics.ContactEnd
	}
}

func (w *World) claim(ref model.Ref) {
	ok, err := w.arb.TryClaim(context.Background(), ref, w.localID)
	if err != nil {
		logging.Warn(w.opts.Logger, "claim failed", "object", ref, "err", err)
		return
	}
	logging.Debug(w.opts.Logger, "claim", "object", ref, "accepted", ok)
}

// Tick pushes every locally controlled entity and flips bodies between
// simulated and reconciled when controllership changed.
func (w *World) Tick() {
	for _, ref := range w.order {
		body := w.bodies[ref]
		isLocal := w.arb.IsLocalController(ref)
		if isLocal != w.local[ref] {
			w.local[ref] = isLocal
			body.SetKinematic(!isLocal)
			w.thr.Forget(ref)
			logging.Debug(w.opts.Logger, "control changed", "object", ref, "local", isLocal)
		}
		if !isLocal {
			w.mirror(ref)
			continue
		}
		w.push(ref, body)
	}
}

// mirror copies reconciled flags onto remote eggs and dropboxes.
func (w *World) mirror(ref model.Ref) {
	sh, ok := w.rec.Shadow(ref)
	if !ok || sh.IsFalling == nil {
		return
	}
	if e, ok := w.eggs[ref]; ok {
		e.falling = *sh.IsFalling
	}
	if d, ok := w.dropboxes[ref]; ok {
		d.falling = *sh.IsFalling
	}
}

func (w *World) push(ref model.Ref, body physics.Body) {
	t := body.Transform()
	switch ref.Category {
	case model.CategoryBoxes:
		w.thr.PushTransform(ref, t)
	case model.CategoryDropboxes:
		w.thr.PushTransform(ref, t)
		w.thr.PushFields(ref, map[string]any{model.FieldIsFalling: w.dropboxes[ref].falling})
	case model.CategoryItems:
		w.thr.PushIfDue(ref, t, throttle.ItemInterval)
	case model.CategoryEggs:
		e := w.eggs[ref]
		w.thr.PushIfDue(ref, t, throttle.EggInterval)
		w.thr.PushLife(ref, e.life)
		w.thr.PushFields(ref, map[string]any{
			model.FieldIsFalling: e.falling,
			model.FieldIsRespawn: e.respawned,
		})
	}
}

// Respawn resets a locally controlled egg. Eggs controlled elsewhere are
// left to their controller.
func (w *World) Respawn(ref model.Ref) bool {
	e, ok := w.eggs[ref]
	if !ok || !w.arb.IsLocalController(ref) {
		return false
	}
	e.Respawn()
	return true
}

// Release gives up every object the local peer controls.
func (w *World) Release() {
	for _, ref := range w.order {
		if w.arb.IsLocalController(ref) {
			w.arb.ReleaseOnDisconnect(ref)
		}
	}
}
