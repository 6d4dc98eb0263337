package physics

import (
	"testing"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
)

func TestKinematicIntegratesOnlyWhenSimulated(t *testing.T) {
	k := NewKinematic(model.Transform{X: 0, Y: 0})
	k.SetVelocity(10, -4)
	k.Integrate(0.5)
	if got := k.Transform(); got.X != 5 || got.Y != -2 {
		t.Fatalf("unexpected transform %+v", got)
	}

	k.SetKinematic(true)
	k.Integrate(1)
	if got := k.Transform(); got.X != 5 || got.Y != -2 {
		t.Fatalf("expected kinematic body to hold still, got %+v", got)
	}
}
