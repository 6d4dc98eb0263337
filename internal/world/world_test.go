package world

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/ownership"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/physics"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/reconcile"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/throttle"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type side struct {
	id    string
	arb   *ownership.LWW
	rec   *reconcile.Reconciler
	world *World
}

func (s *side) tick() {
	s.rec.Tick()
	s.world.Tick()
}

func newSide(mem *store.Memory, id string, clk *clock) *side {
	quiet := log.New(&bytes.Buffer{}, "", 0)
	client := store.NewClient(mem, store.Options{Logger: quiet})
	arb := ownership.NewLWW(client, id, ownership.Options{Now: clk.Now, Logger: quiet})
	thr := throttle.New(client, throttle.Options{Now: clk.Now, Logger: quiet})
	rec := reconcile.New(client, arb, id, reconcile.Options{Logger: quiet})
	return &side{id: id, arb: arb, rec: rec, world: New(id, client, arb, thr, rec, Options{Logger: quiet})}
}

func touch(ref model.Ref, player string) []physics.ContactEvent {
	return []physics.ContactEvent{{Phase: physics.ContactBegin, Object: ref, Player: player}}
}

func TestFallDamage(t *testing.T) {
	cases := []struct {
		height  float64
		maxLife int
		want    int
	}{
		{150, 100, 12},
		{100, 100, 0},
		{60, 100, 0},
		{500, 100, 100},
		{900, 100, 100},
		{300, 50, 25},
	}
	for _, tc := range cases {
		if got := FallDamage(tc.height, tc.maxLife); got != tc.want {
			t.Fatalf("FallDamage(%v, %d) = %d, want %d", tc.height, tc.maxLife, got, tc.want)
		}
	}
}

func TestEggFallDamageRoundTrips(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	b := newSide(mem, "client2", clk)
	eggA := a.world.AddEgg("egg1", physics.NewKinematic(model.Transform{}), 100)
	eggB := b.world.AddEgg("egg1", physics.NewKinematic(model.Transform{}), 100)

	a.world.HandleContacts(touch(eggA.Ref, "client1"))
	if !a.arb.IsLocalController(eggA.Ref) {
		t.Fatalf("client1 should control egg1 after touching it")
	}
	a.tick()

	a.world.HandleContacts([]physics.ContactEvent{{Phase: physics.ContactEnd, Object: eggA.Ref, Ground: true}})
	eggA.SetTransform(model.Transform{Y: 150})
	a.world.HandleContacts([]physics.ContactEvent{{Phase: physics.ContactBegin, Object: eggA.Ref, Ground: true}})
	if eggA.Life() != 88 {
		t.Fatalf("local life = %d, want 88", eggA.Life())
	}

	clk.Advance(throttle.EggInterval)
	a.tick()

	v, ok, err := mem.Once(context.Background(), store.JoinPath(eggA.Ref.Path(), model.FieldLife))
	if err != nil || !ok {
		t.Fatalf("life not written: %v %v", ok, err)
	}
	if v != float64(88) {
		t.Fatalf("stored life = %v, want 88", v)
	}

	b.tick()
	if eggB.Life() != 88 {
		t.Fatalf("remote life = %d, want 88", eggB.Life())
	}
	if got := eggB.Transform(); got.Y != 150 {
		t.Fatalf("remote transform = %+v", got)
	}
}

func TestEggRespawnResetsLife(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	egg := a.world.AddEgg("egg1", physics.NewKinematic(model.Transform{X: 5}), 100)
	a.world.HandleContacts(touch(egg.Ref, "client1"))
	egg.SetLife(10)
	egg.SetTransform(model.Transform{X: 300, Y: 400})

	if !a.world.Respawn(egg.Ref) {
		t.Fatalf("controller could not respawn its egg")
	}
	a.tick()

	if egg.Life() != 100 || egg.Transform() != (model.Transform{X: 5}) {
		t.Fatalf("respawn left life=%d transform=%+v", egg.Life(), egg.Transform())
	}
	v, _, _ := mem.Once(context.Background(), egg.Ref.Path())
	if r, _ := store.Bool(v, model.FieldIsRespawn); !r {
		t.Fatalf("expected isRespawn in %v", v)
	}
}

func TestBrokenEggRespawns(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	b := newSide(mem, "client2", clk)
	egg := a.world.AddEgg("egg1", physics.NewKinematic(model.Transform{X: 5}), 100)
	remote := b.world.AddEgg("egg1", physics.NewKinematic(model.Transform{X: 5}), 100)
	a.world.HandleContacts(touch(egg.Ref, "client1"))
	a.tick()

	a.world.HandleContacts([]physics.ContactEvent{{Phase: physics.ContactEnd, Object: egg.Ref, Ground: true}})
	egg.SetTransform(model.Transform{X: 5, Y: 600})
	a.world.HandleContacts([]physics.ContactEvent{{Phase: physics.ContactBegin, Object: egg.Ref, Ground: true}})

	if egg.Life() != 100 || egg.Transform() != (model.Transform{X: 5}) {
		t.Fatalf("broken egg not respawned: life=%d transform=%+v", egg.Life(), egg.Transform())
	}
	clk.Advance(throttle.EggInterval)
	a.tick()
	v, _, _ := mem.Once(context.Background(), egg.Ref.Path())
	if r, _ := store.Bool(v, model.FieldIsRespawn); !r {
		t.Fatalf("expected isRespawn in %v", v)
	}
	if b.world.Respawn(remote.Ref) {
		t.Fatalf("non-controller respawned the egg")
	}
}

func TestOnlyLocalControllerPushes(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	b := newSide(mem, "client2", clk)
	bodyA := physics.NewKinematic(model.Transform{X: 1})
	bodyB := physics.NewKinematic(model.Transform{X: 1})
	ref := a.world.AddBox("box1", bodyA)
	b.world.AddBox("box1", bodyB)

	a.world.HandleContacts(touch(ref, "client1"))
	b.world.HandleContacts(touch(ref, "client2"))
	if b.arb.IsLocalController(ref) {
		t.Fatalf("client2 claimed a box client1 holds")
	}

	bodyA.SetTransform(model.Transform{X: 10, Y: 20})
	bodyB.SetTransform(model.Transform{X: 999, Y: 999})
	a.tick()
	b.tick()

	if bodyA.IsKinematic() {
		t.Fatalf("controlled body should be simulated")
	}
	if !bodyB.IsKinematic() {
		t.Fatalf("shadow body should be kinematic")
	}
	if got := bodyB.Transform(); got != (model.Transform{X: 10, Y: 20}) {
		t.Fatalf("shadow = %+v, want {10 20 0}", got)
	}
}

func TestRepeatedTouchClaimsOnce(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	claims := 0
	a.world.opts.Claim = func(model.Ref) { claims++ }
	ref := a.world.AddBox("box1", physics.NewKinematic(model.Transform{}))

	a.world.HandleContacts(touch(ref, "client1"))
	a.world.HandleContacts(touch(ref, "client1"))
	if claims != 1 {
		t.Fatalf("expected one claim per qualifying event, got %d", claims)
	}
	a.world.HandleContacts([]physics.ContactEvent{{Phase: physics.ContactEnd, Object: ref, Player: "client1"}})
	a.world.HandleContacts(touch(ref, "client1"))
	if claims != 2 {
		t.Fatalf("expected a new claim after the contact ended, got %d", claims)
	}
	// touches by other players never claim for the local peer
	a.world.HandleContacts(touch(ref, "client9"))
	if claims != 2 || a.world.Contacts().Touching(ref) != 2 {
		t.Fatalf("claims=%d touching=%d", claims, a.world.Contacts().Touching(ref))
	}
}

func TestItemActiveMirror(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	b := newSide(mem, "client2", clk)
	itemA := a.world.AddItem("item1", physics.NewKinematic(model.Transform{}))
	itemB := b.world.AddItem("item1", physics.NewKinematic(model.Transform{}))
	if !itemB.Active() {
		t.Fatalf("items start active")
	}
	if err := itemA.Collect(); err != nil {
		t.Fatal(err)
	}
	if itemB.Active() || itemA.Active() {
		t.Fatalf("collect not mirrored: a=%v b=%v", itemA.Active(), itemB.Active())
	}
	_ = itemB.Restore()
	if !itemA.Active() {
		t.Fatalf("restore not mirrored")
	}
}

func TestReleaseClearsControlledObjects(t *testing.T) {
	mem := store.NewMemory()
	clk := &clock{now: time.Unix(500, 0)}
	a := newSide(mem, "client1", clk)
	ref := a.world.AddBox("box1", physics.NewKinematic(model.Transform{}))
	a.world.HandleContacts(touch(ref, "client1"))
	a.world.Release()
	if _, ok, _ := mem.Once(context.Background(), ref.ControllerPath()); ok {
		t.Fatalf("controllerId still present after release")
	}
}
