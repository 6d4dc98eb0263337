package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Transform is the replicated pose of a body. It is rounded to integer units
// before every write.
type Transform struct {
	X        float64 `json:"x" jsonschema:"description=Horizontal position in world units"`
	Y        float64 `json:"y" jsonschema:"description=Vertical position in world units"`
	Rotation float64 `json:"rotation" jsonschema:"description=Rotation in degrees"`
}

func (t Transform) Rounded() Transform {
	return Transform{X: math.Round(t.X), Y: math.Round(t.Y), Rotation: math.Round(t.Rotation)}
}

// Fields renders t as a store value.
func (t Transform) Fields() map[string]any {
	return map[string]any{"x": t.X, "y": t.Y, "rotation": t.Rotation}
}

// ObjectDoc lives at <category>/<id>. Optional fields are nil when absent.
type ObjectDoc struct {
	Active       *bool      `json:"active,omitempty" jsonschema:"description=Item availability"`
	IsFalling    *bool      `json:"isFalling,omitempty" jsonschema:"description=Egg or dropbox is airborne"`
	IsRespawn    *bool      `json:"isRespawn,omitempty" jsonschema:"description=Egg was reset to its spawn point"`
	ControllerID string     `json:"controllerId,omitempty" jsonschema:"description=Player currently driving the physics of this object"`
	Position     *Transform `json:"position,omitempty"`
	Status       string     `json:"status,omitempty"`
	Life         *int       `json:"life,omitempty" jsonschema:"minimum=0"`
}

// Facing is the horizontal orientation of an avatar: -1 or +1.
// It decodes from a number or from "left"/"right".
type Facing int

func (f *Facing) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "left":
			*f = -1
		case "right":
			*f = 1
		default:
			return fmt.Errorf("model: facing %q", s)
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model: facing: %w", err)
	}
	switch {
	case n < 0:
		*f = -1
	case n > 0:
		*f = 1
	default:
		*f = 0
	}
	return nil
}

// Character is a skin reference: either a name or a numeric index.
type Character struct {
	Name  string
	Index int
	// Numeric is true when the store held an index instead of a name.
	Numeric bool
}

func (c *Character) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Character{Name: s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model: character: %w", err)
	}
	*c = Character{Index: int(n), Numeric: true}
	return nil
}

func (c Character) MarshalJSON() ([]byte, error) {
	if c.Numeric {
		return json.Marshal(c.Index)
	}
	return json.Marshal(c.Name)
}

// PlayerDoc lives at players/<id>. It is written only by its owning client and
// marked offline, never deleted, on disconnect.
type PlayerDoc struct {
	Name       string     `json:"name"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Animation  string     `json:"animation,omitempty"`
	Facing     *Facing    `json:"facing,omitempty" jsonschema:"type=integer,enum=-1,enum=1"`
	Online     bool       `json:"online"`
	Character  *Character `json:"character,omitempty" jsonschema:"type=string"`
	LastUpdate int64      `json:"lastUpdate" jsonschema:"description=Unix milliseconds of the last owner write"`
}

// TriggerDoc lives at triggers/<id>.
type TriggerDoc struct {
	Triggered bool `json:"triggered"`
}

// GameState is the top-level replicated phase of a game document.
type GameState string

const (
	StateWaiting GameState = "waiting"
	StateActive  GameState = "active"
	StateEnded   GameState = "ended"
)

type GamePlayer struct {
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

type Imposter struct {
	ID string `json:"id"`
}

type Vote struct {
	// Target is the accused player; empty means skip.
	Target string `json:"target"`
}

type Voting struct {
	StartTime       int64           `json:"startTime" jsonschema:"description=Unix milliseconds when the vote opened"`
	Completed       bool            `json:"completed"`
	Votes           map[string]Vote `json:"votes,omitempty"`
	EjectedPlayerID string          `json:"ejectedPlayerId,omitempty"`
}

const (
	WinnerCrew     = "crew"
	WinnerImposter = "imposter"
)

// GameDoc lives at games/<id>.
type GameDoc struct {
	HostID        string                `json:"hostId"`
	State         GameState             `json:"state" jsonschema:"enum=waiting,enum=active,enum=ended"`
	Players       map[string]GamePlayer `json:"players,omitempty"`
	ActivePlayers []string              `json:"activePlayers,omitempty"`
	Imposter      *Imposter             `json:"imposter,omitempty"`
	Voting        *Voting               `json:"voting,omitempty"`
	Winner        string                `json:"winner,omitempty"`
}
