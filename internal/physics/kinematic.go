package physics

import "github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"

// Kinematic is a minimal Body: it integrates velocity when not kinematic and
// otherwise holds whatever transform it was given.
type Kinematic struct {
	t         model.Transform
	vx, vy    float64
	kinematic bool
}

func NewKinematic(t model.Transform) *Kinematic {
	return &Kinematic{t: t}
}

func (k *Kinematic) Transform() model.Transform     { return k.t }
func (k *Kinematic) SetTransform(t model.Transform) { k.t = t }
func (k *Kinematic) SetVelocity(vx, vy float64)     { k.vx, k.vy = vx, vy }
func (k *Kinematic) Velocity() (float64, float64)   { return k.vx, k.vy }
func (k *Kinematic) SetKinematic(v bool)            { k.kinematic = v }
func (k *Kinematic) IsKinematic() bool              { return k.kinematic }

// Integrate advances a non-kinematic body by dt seconds.
func (k *Kinematic) Integrate(dt float64) {
	if k.kinematic {
		return
	}
	k.t.X += k.vx * dt
	k.t.Y += k.vy * dt
}
