package ownership

import "github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"

// Contacts tracks which players touch which objects. Controllership is not
// released when contacts end; the count only feeds the claim heuristics.
type Contacts struct {
	touching map[model.Ref]map[string]struct{}
}

func NewContacts() *Contacts {
	return &Contacts{touching: map[model.Ref]map[string]struct{}{}}
}

// Begin records a contact. It returns true only on the transition into
// touching, which is the qualifying event for a single claim attempt.
func (c *Contacts) Begin(ref model.Ref, player string) bool {
	set, ok := c.touching[ref]
	if !ok {
		set = map[string]struct{}{}
		c.touching[ref] = set
	}
	if _, already := set[player]; already {
		return false
	}
	set[player] = struct{}{}
	return true
}

func (c *Contacts) End(ref model.Ref, player string) {
	set, ok := c.touching[ref]
	if !ok {
		return
	}
	delete(set, player)
	if len(set) == 0 {
		delete(c.touching, ref)
	}
}

// Touching is the remaining contact count for ref.
func (c *Contacts) Touching(ref model.Ref) int {
	return len(c.touching[ref])
}

func (c *Contacts) IsTouching(ref model.Ref, player string) bool {
	_, ok := c.touching[ref][player]
	return ok
}
