package world

import (
	"math"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

// Dropbox is a box that can fall through the level.
type Dropbox struct {
	physics.Body
	Ref     model.Ref
	falling bool
}

func (d *Dropbox) Falling() bool { return d.falling }

// Egg carries health that drops on hard landings.
type Egg struct {
	physics.Body
	Ref     model.Ref
	MaxLife int
	Spawn   model.Transform

	life      int
	falling   bool
	fallFrom  float64
	respawned bool
}

func (e *Egg) Life() int { return e.life }

// SetLife is used by the reconciler for eggs controlled elsewhere.
func (e *Egg) SetLife(life int) { e.life = life }

func (e *Egg) Falling() bool { return e.falling }

func (e *Egg) beginFall() {
	if e.falling {
		return
	}
	e.falling = true
	e.respawned = false
	e.fallFrom = e.Transform().Y
}

// land ends a fall and applies fall damage. It returns the damage dealt.
func (e *Egg) land() int {
	if !e.falling {
		return 0
	}
	e.falling = false
	dmg := FallDamage(math.Abs(e.Transform().Y-e.fallFrom), e.MaxLife)
	e.life -= dmg
	if e.life < 0 {
		e.life = 0
	}
	return dmg
}

// Respawn puts the egg back at its spawn point with full health.
func (e *Egg) Respawn() {
	e.life = e.MaxLife
	e.falling = false
	e.respawned = true
	e.SetVelocity(0, 0)
	e.SetTransform(e.Spawn)
}

// Item is a collectible. Its availability is mirrored from the store so per
// tick logic never reads remotely.
type Item struct {
	physics.Body
	Ref model.Ref

	client *store.Client
	sub    *store.Subscription
	active bool
}

func (it *Item) Active() bool { return it.active }

func (it *Item) watch() {
	it.active = true
	it.sub = it.client.Subscribe(store.JoinPath(it.Ref.Path(), model.FieldActive), func(v any, exists bool) {
		if !exists {
			it.active = true
			return
		}
		if b, ok := v.(bool); ok {
			it.active = b
		}
	})
}

// Collect marks the item as taken for every peer.
func (it *Item) Collect() error {
	return it.client.UpdatePath(it.Ref.Path(), map[string]any{model.FieldActive: false})
}

// Restore makes the item available again.
func (it *Item) Restore() error {
	return it.client.UpdatePath(it.Ref.Path(), map[string]any{model.FieldActive: true})
}
