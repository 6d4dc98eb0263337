// Package peer composes the sync core of one participant: store client,
// arbitrator, throttler, reconciler, session, triggers, world and presence,
// all driven by a single Loop.
package peer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/ownership"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/presence"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/reconcile"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/session"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/throttle"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/trigger"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/world"
)

type Options struct {
	GameID         string
	Name           string
	Tick           time.Duration
	MinPlayers     int
	VotingDuration time.Duration
	StaleAfter     time.Duration
	Characters     []string
	Character      *model.Character
	// Engine is optional; without one bodies only move when told to.
	Engine physics.Engine
	Now    func() time.Time
	Logger *log.Logger
	// OnPhase and OnControl run on the loop.
	OnPhase   func(prev, next session.Phase)
	OnControl func(ref model.Ref, controller string)
}

type Peer struct {
	id   string
	opts Options

	loop     *Loop
	client   *store.Client
	arb      *ownership.LWW
	thr      *throttle.Throttler
	rec      *reconcile.Reconciler
	session  *session.Coordinator
	triggers *trigger.Fanout
	world    *world.World
	presence *presence.Publisher

	// loop-owned
	self presence.State

	ctx    context.Context
	cancel context.CancelFunc
	claims sync.WaitGroup
}

// New wires a peer. backend may be nil and attached later with Attach.
func New(id string, backend store.Backend, opts Options) *Peer {
	if opts.Tick <= 0 {
		opts.Tick = time.Second / 60
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GameID == "" {
		opts.GameID = "default"
	}
	p := &Peer{id: id, opts: opts}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.loop = NewLoop(opts.Tick, p.tick, opts.Now)
	p.client = store.NewClient(backend, store.Options{Dispatch: p.loop.Post, Logger: opts.Logger})

	p.arb = ownership.NewLWW(p.client, id, ownership.Options{
		StaleAfter: opts.StaleAfter,
		Presence:   recPresence{p},
		Now:        opts.Now,
		Logger:     opts.Logger,
		OnChange: func(ref model.Ref, controller string) {
			if opts.OnControl != nil {
				p.loop.Post(func() { opts.OnControl(ref, controller) })
			}
		},
	})
	p.thr = throttle.New(p.client, throttle.Options{Now: opts.Now, Logger: opts.Logger})
	p.rec = reconcile.New(p.client, p.arb, id, reconcile.Options{Characters: opts.Characters, Logger: opts.Logger})
	p.session = session.New(p.client, opts.GameID, id, session.Options{
		MinPlayers:     opts.MinPlayers,
		VotingDuration: opts.VotingDuration,
		Now:            opts.Now,
		Logger:         opts.Logger,
		OnPhase: func(prev, next session.Phase, _ model.GameDoc) {
			if opts.OnPhase != nil {
				opts.OnPhase(prev, next)
			}
		},
	})
	p.triggers = trigger.New(p.client, opts.Logger)
	p.world = world.New(id, p.client, p.arb, p.thr, p.rec, world.Options{Claim: p.claimAsync, Logger: opts.Logger})
	p.presence = presence.NewPublisher(p.client, id, opts.Name, presence.Options{
		Character: opts.Character,
		Now:       opts.Now,
		Logger:    opts.Logger,
	})
	return p
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Client() *store.Client { return p.client }

func (p *Peer) Loop() *Loop { return p.loop }

// Attach installs the store backend, e.g. once the relay connection is up.
func (p *Peer) Attach(b store.Backend) { p.client.Attach(b) }

// Run starts the loop and blocks until Close.
func (p *Peer) Run() { p.loop.Run() }

// Start subscribes to shared state, publishes presence and joins the game.
// The loop must be running.
func (p *Peer) Start(ctx context.Context) error {
	p.session.Start()
	p.loop.Do(func() {
		p.rec.WatchPlayers()
		if err := p.presence.Join(p.self); err != nil {
			logging.Warn(p.opts.Logger, "presence not published", "err", err)
		}
	})
	return p.session.Join(ctx, p.id, p.opts.Name)
}

func (p *Peer) tick(now time.Time) {
	if p.opts.Engine != nil {
		p.world.HandleContacts(p.opts.Engine.Step(p.opts.Tick.Seconds()))
	}
	p.rec.Tick()
	p.world.Tick()
	p.session.Tick(now)
	p.presence.Update(p.self)
}

// claimAsync keeps the store round trip of a claim off the loop.
func (p *Peer) claimAsync(ref model.Ref) {
	p.claims.Add(1)
	go func() {
		defer p.claims.Done()
		ok, err := p.arb.TryClaim(p.ctx, ref, p.id)
		if err != nil {
			logging.Warn(p.opts.Logger, "claim failed", "object", ref, "err", err)
			return
		}
		logging.Debug(p.opts.Logger, "claim", "object", ref, "accepted", ok)
	}()
}

// Level runs fn on the loop with the world, for adding entities.
func (p *Peer) Level(fn func(w *world.World)) {
	p.loop.Do(func() { fn(p.world) })
}

// Touch reports a contact between the local player and ref.
func (p *Peer) Touch(ref model.Ref) {
	p.contact(ref, physics.ContactBegin)
}

func (p *Peer) Untouch(ref model.Ref) {
	p.contact(ref, physics.ContactEnd)
}

func (p *Peer) contact(ref model.Ref, phase physics.ContactPhase) {
	p.loop.Do(func() {
		p.world.HandleContacts([]physics.ContactEvent{{Phase: phase, Object: ref, Player: p.id}})
	})
}

// Controls reports whether the local peer drives ref.
func (p *Peer) Controls(ref model.Ref) bool { return p.arb.IsLocalController(ref) }

// Claim attempts to take control of ref directly.
func (p *Peer) Claim(ctx context.Context, ref model.Ref) (bool, error) {
	return p.arb.TryClaim(ctx, ref, p.id)
}

func (p *Peer) Release(ref model.Ref) {
	p.arb.ReleaseOnDisconnect(ref)
}

// Move sets the transform of a body the local peer controls. Shadows are
// never moved locally.
func (p *Peer) Move(ref model.Ref, t model.Transform) bool {
	moved := false
	p.loop.Do(func() {
		if !p.arb.IsLocalController(ref) {
			return
		}
		if b, ok := p.world.Body(ref); ok {
			b.SetTransform(t)
			moved = true
		}
	})
	return moved
}

// Transform reads the local copy of ref.
func (p *Peer) Transform(ref model.Ref) (model.Transform, bool) {
	var (
		t  model.Transform
		ok bool
	)
	p.loop.Do(func() {
		var b physics.Body
		if b, ok = p.world.Body(ref); ok {
			t = b.Transform()
		}
	})
	return t, ok
}

// Respawn resets an egg the local peer controls.
func (p *Peer) Respawn(ref model.Ref) bool {
	done := false
	p.loop.Do(func() { done = p.world.Respawn(ref) })
	return done
}

// Ground reports a ground contact for a controlled egg or dropbox.
func (p *Peer) Ground(ref model.Ref, begin bool) {
	phase := physics.ContactEnd
	if begin {
		phase = physics.ContactBegin
	}
	p.loop.Do(func() {
		p.world.HandleContacts([]physics.ContactEvent{{Phase: phase, Object: ref, Ground: true}})
	})
}

// MoveSelf updates the local avatar; presence publishes it on its cadence.
func (p *Peer) MoveSelf(s presence.State) {
	p.loop.Do(func() { p.self = s })
}

func (p *Peer) Avatars() []reconcile.Avatar {
	var out []reconcile.Avatar
	p.loop.Do(func() {
		for _, a := range p.rec.Avatars() {
			out = append(out, *a)
		}
	})
	return out
}

func (p *Peer) Phase() session.Phase { return p.session.Phase() }

func (p *Peer) Game() (model.GameDoc, bool) { return p.session.Game() }

func (p *Peer) IsImposter() bool { return p.session.IsImposter() }

func (p *Peer) StartVote() error { return p.session.StartVoting(p.opts.Now()) }

func (p *Peer) Vote(target string) error { return p.session.CastVote(p.id, target) }

func (p *Peer) Reset() error { return p.session.Reset() }

func (p *Peer) Fire(id string, on bool) error { return p.triggers.Set(id, on) }

// Triggered reads the trigger mirror. On first use it starts mirroring id and
// seeds the mirror with a direct read, so the answer already reflects the
// store. Must not be called from the loop.
func (p *Peer) Triggered(id string) bool {
	if on, known := p.triggers.State(id); known {
		return on
	}
	p.loop.Do(func() { p.triggers.Watch(id) })
	v, ok, err := p.client.GetOnce(p.ctx, model.TriggerPath(id))
	if err != nil {
		logging.Debug(p.opts.Logger, "trigger read failed", "trigger", id, "err", err)
		return p.triggers.Triggered(id)
	}
	p.loop.Do(func() { p.triggers.Seed(id, v, ok) })
	return p.triggers.Triggered(id)
}

func (p *Peer) Triggers() *trigger.Fanout { return p.triggers }

// Close releases every controlled object, marks the player offline and
// stops the loop.
func (p *Peer) Close() {
	p.cancel()
	p.claims.Wait()
	p.loop.Do(func() {
		p.world.Release()
		if err := p.presence.Leave(); err != nil {
			logging.Warn(p.opts.Logger, "offline not published", "err", err)
		}
	})
	p.session.Stop()
	p.loop.Stop()
	<-p.loop.Done()
}

// recPresence answers arbitrator presence queries from the reconciler's
// player mirror, which is built after the arbitrator.
type recPresence struct{ p *Peer }

func (rp recPresence) Online(id string) (online, known bool) {
	if rp.p.rec == nil {
		return false, false
	}
	return rp.p.rec.Online(id)
}
