// Package ownership elects a single writer ("controller") per shared object.
//
// The store has no compare-and-swap, so two peers claiming inside the same
// round trip can both believe they won. That split-brain is tolerated: only
// the controller keeps pushing transforms, and every peer's mirror converges
// on whichever controllerId the store kept last.
package ownership

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

const DefaultStaleAfter = 3 * time.Second

// Arbitrator decides which peer may write an object's authoritative state.
// A store with conditional writes only needs a new TryClaim.
type Arbitrator interface {
	TryClaim(ctx context.Context, ref model.Ref, requester string) (bool, error)
	IsLocalController(ref model.Ref) bool
	ReleaseOnDisconnect(ref model.Ref)
}

// Presence reports whether a player is known to be online.
type Presence interface {
	Online(playerID string) (online, known bool)
}

type Options struct {
	// StaleAfter is how long a controller may stay silent before a competing
	// claim may take the object over.
	StaleAfter time.Duration
	Presence   Presence
	Now        func() time.Time
	Logger     *log.Logger
	// OnChange runs whenever the mirrored controller of a watched object changes.
	OnChange func(ref model.Ref, controller string)
}

type watch struct {
	sub          *store.Subscription
	controller   string
	lastActivity time.Time
	lastPos      *model.Transform
}

// LWW arbitrates over a last-write-wins store.
type LWW struct {
	client  *store.Client
	localID string
	opts    Options

	mu      sync.Mutex
	watched map[model.Ref]*watch
}

var _ Arbitrator = (*LWW)(nil)

func NewLWW(client *store.Client, localID string, opts Options) *LWW {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LWW{
		client:  client,
		localID: localID,
		opts:    opts,
		watched: map[model.Ref]*watch{},
	}
}

func (a *LWW) LocalID() string { return a.localID }

// Watch mirrors the object's controllerId and transform activity locally so
// IsLocalController never needs a round trip.
func (a *LWW) Watch(ref model.Ref) {
	a.mu.Lock()
	if _, ok := a.watched[ref]; ok {
		a.mu.Unlock()
		return
	}
	w := &watch{lastActivity: a.opts.Now()}
	a.watched[ref] = w
	a.mu.Unlock()

	sub := a.client.Subscribe(ref.Path(), func(v any, exists bool) {
		a.observe(ref, v, exists)
	})
	a.mu.Lock()
	w.sub = sub
	a.mu.Unlock()
}

func (a *LWW) Unwatch(ref model.Ref) {
	a.mu.Lock()
	w, ok := a.watched[ref]
	delete(a.watched, ref)
	a.mu.Unlock()
	if ok && w.sub != nil {
		w.sub.Cancel()
	}
}

func (a *LWW) observe(ref model.Ref, v any, exists bool) {
	var doc model.ObjectDoc
	if exists {
		// malformed fields are dropped by the decoder; the rest still counts
		doc, _ = model.DecodeObject(v)
	}
	now := a.opts.Now()

	a.mu.Lock()
	w, ok := a.watched[ref]
	if !ok {
		a.mu.Unlock()
		return
	}
	changed := doc.ControllerID != w.controller
	prev := w.controller
	if changed {
		w.controller = doc.ControllerID
		w.lastActivity = now
	}
	if doc.Position != nil && (w.lastPos == nil || *w.lastPos != *doc.Position) {
		p := *doc.Position
		w.lastPos = &p
		w.lastActivity = now
	}
	a.mu.Unlock()

	if !changed {
		return
	}
	if prev == a.localID && doc.ControllerID != a.localID {
		logging.Info(a.opts.Logger, "controllership lost", "object", ref, "controller", doc.ControllerID)
	}
	if a.opts.OnChange != nil {
		a.opts.OnChange(ref, doc.ControllerID)
	}
}

// TryClaim reads controllerId once. Absent: write requester and accept
// optimistically. Equal: accept. Different: reject unless the holder is stale.
func (a *LWW) TryClaim(ctx context.Context, ref model.Ref, requester string) (bool, error) {
	v, ok, err := a.client.GetOnce(ctx, ref.ControllerPath())
	if err != nil {
		return false, err
	}
	current, _ := v.(string)
	if !ok {
		current = ""
	}

	switch {
	case current == requester:
		a.setMirror(ref, requester)
		return true, nil
	case current == "":
	case a.stale(ref, current):
		logging.Info(a.opts.Logger, "controller takeover", "object", ref, "from", current, "to", requester)
	default:
		return false, nil
	}

	if err := a.client.UpdatePath(ref.Path(), map[string]any{model.FieldControllerID: requester}); err != nil {
		return false, err
	}
	a.setMirror(ref, requester)
	return true, nil
}

func (a *LWW) setMirror(ref model.Ref, controller string) {
	a.mu.Lock()
	w, ok := a.watched[ref]
	changed := ok && w.controller != controller
	if changed {
		w.controller = controller
		w.lastActivity = a.opts.Now()
	}
	a.mu.Unlock()
	if changed && a.opts.OnChange != nil {
		a.opts.OnChange(ref, controller)
	}
}

func (a *LWW) stale(ref model.Ref, controller string) bool {
	if a.opts.Presence != nil {
		if online, known := a.opts.Presence.Online(controller); known && !online {
			return true
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.watched[ref]
	if !ok || w.controller != controller {
		return false
	}
	return a.opts.Now().Sub(w.lastActivity) > a.opts.StaleAfter
}

// Controller returns the mirrored controller of a watched object.
func (a *LWW) Controller(ref model.Ref) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.watched[ref]; ok {
		return w.controller
	}
	return ""
}

func (a *LWW) IsLocalController(ref model.Ref) bool {
	return a.localID != "" && a.Controller(ref) == a.localID
}

// Controlled lists every watched object the local peer currently drives.
func (a *LWW) Controlled() []model.Ref {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.Ref
	for ref, w := range a.watched {
		if w.controller == a.localID && a.localID != "" {
			out = append(out, ref)
		}
	}
	return out
}

// ReleaseOnDisconnect clears controllerId when the local peer holds it.
func (a *LWW) ReleaseOnDisconnect(ref model.Ref) {
	if !a.IsLocalController(ref) {
		return
	}
	_ = a.client.UpdatePath(ref.Path(), map[string]any{model.FieldControllerID: nil})
	a.setMirror(ref, "")
}
