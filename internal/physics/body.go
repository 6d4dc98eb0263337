// Package physics is the contract with the collision engine. The engine itself
// is a black box: it owns bodies and reports contacts.
package physics

import "github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"

// Body is one simulated body. The reconciler writes shadows through it; local
// physics writes controlled bodies through it.
type Body interface {
	Transform() model.Transform
	SetTransform(t model.Transform)
	SetVelocity(vx, vy float64)
	Velocity() (vx, vy float64)
	// SetKinematic switches a body between driven-by-physics and driven-by-snapshots.
	SetKinematic(kinematic bool)
}

type ContactPhase int

const (
	ContactBegin ContactPhase = iota
	ContactEnd
)

// ContactEvent is reported by the engine when two bodies start or stop touching.
type ContactEvent struct {
	Phase  ContactPhase
	Object model.Ref
	// Player is set when the other body is a player avatar.
	Player string
	// Ground is set when the other body is static level geometry.
	Ground bool
}

// Engine advances the world and reports contacts since the last step.
type Engine interface {
	Step(dt float64) []ContactEvent
}
