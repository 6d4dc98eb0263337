package throttle

import (
	"testing"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

type write struct {
	path    string
	partial map[string]any
}

type fakeWriter struct {
	writes []write
	err    error
}

func (f *fakeWriter) UpdatePath(path string, partial map[string]any) error {
	f.writes = append(f.writes, write{path, partial})
	return f.err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

var box = model.NewRef(model.CategoryBoxes, "box1")

func TestPushTransformSkipsJitterBelowThreshold(t *testing.T) {
	w := &fakeWriter{}
	th := New(w, Options{})

	seq := []model.Transform{
		{X: 10, Y: 20, Rotation: 0},
		{X: 10.2, Y: 20.1, Rotation: 0.5},
		{X: 9.9, Y: 20.3, Rotation: 0.9},
		{X: 10.3, Y: 19.9, Rotation: 0.2},
		{X: 10.1, Y: 20.2, Rotation: -0.4},
	}
	for _, s := range seq {
		th.PushTransform(box, s)
	}
	if len(w.writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(w.writes))
	}
}

func TestPushTransformRoundsAndWritesPastThreshold(t *testing.T) {
	w := &fakeWriter{}
	th := New(w, Options{})

	th.PushTransform(box, model.Transform{X: 10.4, Y: 20.6, Rotation: 0})
	if !th.PushTransform(box, model.Transform{X: 11.2, Y: 20.6, Rotation: 0}) {
		t.Fatalf("expected write after moving 0.8 units")
	}
	if !th.PushTransform(box, model.Transform{X: 11.2, Y: 20.6, Rotation: 2.4}) {
		t.Fatalf("expected write after rotating 2.4 degrees")
	}
	last := w.writes[len(w.writes)-1]
	pos := last.partial[model.FieldPosition].(map[string]any)
	if last.path != "boxes/box1" || pos["x"] != 11.0 || pos["y"] != 21.0 || pos["rotation"] != 2.0 {
		t.Fatalf("unexpected write %+v", last)
	}
}

func TestPushTransformCacheUntouchedWhenStoreUnavailable(t *testing.T) {
	w := &fakeWriter{err: store.ErrUnavailable}
	th := New(w, Options{})
	if th.PushTransform(box, model.Transform{X: 1}) {
		t.Fatalf("expected no issued write while unavailable")
	}
	w.err = nil
	if !th.PushTransform(box, model.Transform{X: 1}) {
		t.Fatalf("expected the same snapshot to be pushed once the store is back")
	}
}

func TestPushIfDueRespectsCadence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := &fakeWriter{}
	th := New(w, Options{Now: clock.Now})
	egg := model.NewRef(model.CategoryEggs, "e1")

	th.PushIfDue(egg, model.Transform{X: 1}, EggInterval)
	clock.now = clock.now.Add(20 * time.Millisecond)
	th.PushIfDue(egg, model.Transform{X: 5}, EggInterval)
	if len(w.writes) != 1 {
		t.Fatalf("expected cadence to hold back the second write, got %d", len(w.writes))
	}
	clock.now = clock.now.Add(40 * time.Millisecond)
	th.PushIfDue(egg, model.Transform{X: 5}, EggInterval)
	if len(w.writes) != 2 {
		t.Fatalf("expected a write once due, got %d", len(w.writes))
	}
	clock.now = clock.now.Add(time.Second)
	th.PushIfDue(egg, model.Transform{X: 5.2}, EggInterval)
	if len(w.writes) != 2 {
		t.Fatalf("expected unchanged rounded snapshot to be skipped, got %d", len(w.writes))
	}
}

func TestPushLifeIsUnthrottledButDeduped(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	w := &fakeWriter{}
	th := New(w, Options{Now: clock.Now})
	egg := model.NewRef(model.CategoryEggs, "e1")

	th.PushIfDue(egg, model.Transform{X: 1}, EggInterval)
	th.PushLife(egg, 100)
	th.PushLife(egg, 100)
	th.PushLife(egg, 88)
	if len(w.writes) != 3 {
		t.Fatalf("expected transform + two life writes, got %d", len(w.writes))
	}
	if w.writes[2].partial[model.FieldLife] != 88 {
		t.Fatalf("unexpected life write %+v", w.writes[2])
	}
}

func TestPushFieldsOnlySendsChanges(t *testing.T) {
	w := &fakeWriter{}
	th := New(w, Options{})
	item := model.NewRef(model.CategoryItems, "i1")

	th.PushFields(item, map[string]any{model.FieldActive: true, model.FieldStatus: "idle"})
	th.PushFields(item, map[string]any{model.FieldActive: true, model.FieldStatus: "taken"})
	if len(w.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(w.writes))
	}
	if _, ok := w.writes[1].partial[model.FieldActive]; ok {
		t.Fatalf("expected unchanged field to be omitted, got %+v", w.writes[1].partial)
	}
}

func TestForgetResetsCache(t *testing.T) {
	w := &fakeWriter{}
	th := New(w, Options{})
	th.PushTransform(box, model.Transform{X: 1})
	th.Forget(box)
	if !th.PushTransform(box, model.Transform{X: 1}) {
		t.Fatalf("expected a write after Forget")
	}
}

func TestIntervalAllow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	iv := NewInterval(time.Second, clock.Now)
	if ok, _ := iv.Allow("k"); !ok {
		t.Fatalf("expected first call to be allowed")
	}
	ok, wait := iv.Allow("k")
	if ok || wait != time.Second {
		t.Fatalf("expected wait of 1s, got %v %v", ok, wait)
	}
	clock.now = clock.now.Add(time.Second)
	if ok, _ := iv.Allow("k"); !ok {
		t.Fatalf("expected call after interval to be allowed")
	}
}

func TestPushTransformSlowDriftWritesOncePastThreshold(t *testing.T) {
	w := &fakeWriter{}
	th := New(w, Options{})

	// each step stays under the threshold but the drift from the last sent
	// snapshot does not
	th.PushTransform(box, model.Transform{X: 10})
	if th.PushTransform(box, model.Transform{X: 10.3}) {
		t.Fatalf("wrote after a 0.3 step")
	}
	if !th.PushTransform(box, model.Transform{X: 10.6}) {
		t.Fatalf("expected a write once the drift passed 0.5")
	}
	if th.PushTransform(box, model.Transform{X: 10.9}) {
		t.Fatalf("drift is measured from the last sent snapshot")
	}
	if len(w.writes) != 2 {
		t.Fatalf("expected initial write plus one drift write, got %d", len(w.writes))
	}
	pos := w.writes[1].partial[model.FieldPosition].(map[string]any)
	if pos["x"] != 11.0 {
		t.Fatalf("unexpected drift write %+v", w.writes[1])
	}
}
