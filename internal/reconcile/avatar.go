package reconcile

import (
	"math"
	"sort"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

// Avatar is the interpolated shadow of a remote player.
type Avatar struct {
	ID        string
	Name      string
	X, Y      float64
	TargetX   float64
	TargetY   float64
	Online    bool
	Skin      int
	Animation string
	// Facing is -1 or +1.
	Facing   int
	received bool
}

func (a *Avatar) step(rate float64) {
	if !a.received || !a.Online {
		return
	}
	dx, dy := a.TargetX-a.X, a.TargetY-a.Y
	if math.Abs(dx) < 0.01 && math.Abs(dy) < 0.01 {
		a.X, a.Y = a.TargetX, a.TargetY
		return
	}
	a.X += dx * rate
	a.Y += dy * rate
}

// WatchPlayers mirrors every remote player under players/. The local player
// is skipped; offline players stay listed with Online=false.
func (r *Reconciler) WatchPlayers() {
	if r.playerSub != nil {
		return
	}
	r.playerSub = r.client.Subscribe(model.PlayersRoot, func(v any, exists bool) {
		if !exists {
			return
		}
		all, ok := store.Object(v)
		if !ok {
			return
		}
		for id, raw := range all {
			if id == r.localID {
				continue
			}
			r.applyPlayer(id, raw)
		}
	})
}

func (r *Reconciler) applyPlayer(id string, raw any) {
	p, err := model.DecodePlayer(raw)
	if err != nil {
		logging.Debug(r.opts.Logger, "ignoring malformed player", "player", id, "err", err)
		return
	}
	a, ok := r.avatars[id]
	if !ok {
		a = &Avatar{ID: id, Facing: 1}
		r.avatars[id] = a
	}
	a.Name = p.Name
	a.Online = p.Online
	r.onlineMu.Lock()
	r.online[id] = p.Online
	r.onlineMu.Unlock()
	a.TargetX, a.TargetY = p.X, p.Y
	if !a.received {
		// first receipt snaps so avatars never slide in from the origin
		a.X, a.Y = p.X, p.Y
		a.received = true
	}
	if p.Character != nil {
		if idx, ok := r.skinIndex(*p.Character); ok {
			a.Skin = idx
		}
	}
	if p.Animation != "" {
		a.Animation = p.Animation
	}
	if p.Facing != nil && *p.Facing != 0 {
		a.Facing = int(*p.Facing)
	}
}

func (r *Reconciler) skinIndex(c model.Character) (int, bool) {
	if c.Numeric {
		if c.Index < 0 {
			return 0, false
		}
		return c.Index, true
	}
	for i, name := range r.opts.Characters {
		if name == c.Name {
			return i, true
		}
	}
	return 0, false
}

// Avatar returns the shadow of a remote player.
func (r *Reconciler) Avatar(id string) (*Avatar, bool) {
	a, ok := r.avatars[id]
	return a, ok
}

// Avatars lists remote players sorted by id.
func (r *Reconciler) Avatars() []*Avatar {
	out := make([]*Avatar, 0, len(r.avatars))
	for _, a := range r.avatars {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Online implements ownership.Presence from the mirrored player documents.
// It is safe to call from any goroutine, including the loop itself.
func (r *Reconciler) Online(id string) (online, known bool) {
	r.onlineMu.Lock()
	defer r.onlineMu.Unlock()
	online, known = r.online[id]
	return online, known
}
