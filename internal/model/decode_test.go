package model

import (
	"errors"
	"testing"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

func normalized(t *testing.T, v any) any {
	t.Helper()
	n, err := store.Normalize(v)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return n
}

func TestDecodeObjectKeepsWellTypedFields(t *testing.T) {
	v := normalized(t, map[string]any{
		"controllerId": "c1",
		"position":     map[string]any{"x": 10, "y": "oops"},
		"life":         88,
		"isFalling":    true,
	})
	d, err := DecodeObject(v)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if d.Position != nil {
		t.Fatalf("expected malformed position to be dropped, got %+v", d.Position)
	}
	if d.ControllerID != "c1" || d.Life == nil || *d.Life != 88 || d.IsFalling == nil || !*d.IsFalling {
		t.Fatalf("unexpected decode result %+v", d)
	}
}

func TestDecodeTransformRotationOptional(t *testing.T) {
	tr, ok := DecodeTransform(normalized(t, map[string]any{"x": 1, "y": 2}))
	if !ok || tr != (Transform{X: 1, Y: 2}) {
		t.Fatalf("DecodeTransform() = %+v, %v", tr, ok)
	}
	if _, ok := DecodeTransform(normalized(t, map[string]any{"x": 1, "y": 2, "rotation": "r"})); ok {
		t.Fatalf("expected non-numeric rotation to be rejected")
	}
}

func TestDecodePlayerFacingAndCharacterVariants(t *testing.T) {
	p, err := DecodePlayer(normalized(t, map[string]any{
		"name": "a", "x": 1, "y": 2, "facing": "left", "character": 3, "online": true,
	}))
	if err != nil {
		t.Fatalf("DecodePlayer() error = %v", err)
	}
	if p.Facing == nil || *p.Facing != -1 {
		t.Fatalf("expected facing -1, got %v", p.Facing)
	}
	if p.Character == nil || !p.Character.Numeric || p.Character.Index != 3 {
		t.Fatalf("expected numeric character 3, got %+v", p.Character)
	}

	if _, err := DecodePlayer(normalized(t, map[string]any{"name": "a", "x": 1})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected missing y to be malformed, got %v", err)
	}
}

func TestDecodeGame(t *testing.T) {
	g, err := DecodeGame(normalized(t, GameDoc{
		HostID: "p1",
		State:  StateActive,
		Voting: &Voting{Votes: map[string]Vote{"p1": {Target: "p2"}}},
	}))
	if err != nil {
		t.Fatalf("DecodeGame() error = %v", err)
	}
	if g.State != StateActive || g.Voting.Votes["p1"].Target != "p2" {
		t.Fatalf("unexpected game %+v", g)
	}
	if _, err := DecodeGame(normalized(t, map[string]any{"state": 3})); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRefPaths(t *testing.T) {
	r := NewRef(CategoryBoxes, "box1")
	if r.Path() != "boxes/box1" || r.ControllerPath() != "boxes/box1/controllerId" {
		t.Fatalf("unexpected paths %q %q", r.Path(), r.ControllerPath())
	}
	if GamePath("g1") != "games/g1" || PlayerPath("p") != "players/p" || TriggerPath("t") != "triggers/t" {
		t.Fatalf("unexpected root paths")
	}
}
