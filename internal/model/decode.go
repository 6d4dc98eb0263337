package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

// ErrMalformed marks a remote payload whose fields are missing or ill-typed.
var ErrMalformed = errors.New("model: malformed document")

// decodeJSON maps a normalized tree onto out.
func decodeJSON(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func DecodePlayer(v any) (PlayerDoc, error) {
	var p PlayerDoc
	if _, ok := store.Object(v); !ok {
		return p, fmt.Errorf("%w: player is not an object", ErrMalformed)
	}
	if _, ok := store.Number(v, "x"); !ok {
		return p, fmt.Errorf("%w: player.x", ErrMalformed)
	}
	if _, ok := store.Number(v, "y"); !ok {
		return p, fmt.Errorf("%w: player.y", ErrMalformed)
	}
	err := decodeJSON(v, &p)
	return p, err
}

func DecodeTrigger(v any) (TriggerDoc, error) {
	var t TriggerDoc
	if v == nil {
		return t, nil
	}
	b, ok := store.Bool(v, "triggered")
	if !ok {
		return t, fmt.Errorf("%w: trigger.triggered", ErrMalformed)
	}
	t.Triggered = b
	return t, nil
}

func DecodeGame(v any) (GameDoc, error) {
	var g GameDoc
	if _, ok := store.Object(v); !ok {
		return g, fmt.Errorf("%w: game is not an object", ErrMalformed)
	}
	err := decodeJSON(v, &g)
	return g, err
}

// DecodeObject validates every field separately. Well-typed fields are
// returned even when others are malformed; the error lists the rejected ones.
func DecodeObject(v any) (ObjectDoc, error) {
	var d ObjectDoc
	if _, ok := store.Object(v); !ok {
		return d, fmt.Errorf("%w: object is not a map", ErrMalformed)
	}
	var bad []string
	flag := func(key string, dst **bool) {
		if _, present := store.Child(v, key); !present {
			return
		}
		b, ok := store.Bool(v, key)
		if !ok {
			bad = append(bad, key)
			return
		}
		*dst = &b
	}
	flag(FieldActive, &d.Active)
	flag(FieldIsFalling, &d.IsFalling)
	flag(FieldIsRespawn, &d.IsRespawn)

	if _, present := store.Child(v, FieldControllerID); present {
		if s, ok := store.String(v, FieldControllerID); ok {
			d.ControllerID = s
		} else {
			bad = append(bad, FieldControllerID)
		}
	}
	if _, present := store.Child(v, FieldStatus); present {
		if s, ok := store.String(v, FieldStatus); ok {
			d.Status = s
		} else {
			bad = append(bad, FieldStatus)
		}
	}
	if _, present := store.Child(v, FieldLife); present {
		if n, ok := store.Number(v, FieldLife); ok && n >= 0 {
			life := int(n)
			d.Life = &life
		} else {
			bad = append(bad, FieldLife)
		}
	}
	if pos, present := store.Child(v, FieldPosition); present {
		if t, ok := DecodeTransform(pos); ok {
			d.Position = &t
		} else {
			bad = append(bad, FieldPosition)
		}
	}
	if len(bad) > 0 {
		return d, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(bad, ","))
	}
	return d, nil
}

// DecodeTransform requires x and y; rotation defaults to 0 when absent but
// must be numeric when present.
func DecodeTransform(v any) (Transform, bool) {
	x, okX := store.Number(v, "x")
	y, okY := store.Number(v, "y")
	if !okX || !okY {
		return Transform{}, false
	}
	t := Transform{X: x, Y: y}
	if _, present := store.Child(v, "rotation"); present {
		r, ok := store.Number(v, "rotation")
		if !ok {
			return Transform{}, false
		}
		t.Rotation = r
	}
	return t, true
}
