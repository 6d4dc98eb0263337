// Package model holds the replicated documents and the paths they live at.
package model

import "github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"

// Category is the top-level path of a family of shared dynamic objects.
type Category string

const (
	CategoryBoxes     Category = "boxes"
	CategoryDropboxes Category = "dropboxes"
	CategoryItems     Category = "items"
	CategoryEggs      Category = "eggs"
)

const (
	PlayersRoot  = "players"
	TriggersRoot = "triggers"
	GamesRoot    = "games"

	FieldControllerID = "controllerId"
	FieldPosition     = "position"
	FieldLife         = "life"
	FieldActive       = "active"
	FieldIsFalling    = "isFalling"
	FieldIsRespawn    = "isRespawn"
	FieldStatus       = "status"
)

// Ref identifies one shared object. IDs are unique within their category.
type Ref struct {
	Category Category
	ID       string
}

func NewRef(c Category, id string) Ref { return Ref{Category: c, ID: id} }

func (r Ref) Path() string { return store.JoinPath(string(r.Category), r.ID) }

func (r Ref) String() string { return r.Path() }

func (r Ref) ControllerPath() string { return store.JoinPath(r.Path(), FieldControllerID) }

func PlayerPath(id string) string  { return store.JoinPath(PlayersRoot, id) }
func TriggerPath(id string) string { return store.JoinPath(TriggersRoot, id) }
func GamePath(id string) string    { return store.JoinPath(GamesRoot, id) }
