package presence

import (
	"log"
	"math"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/throttle"
)

// UpdateInterval is the cadence of owner updates to players/<id>.
const UpdateInterval = 100 * time.Millisecond

type Options struct {
	Character *model.Character
	Now       func() time.Time
	Logger    *log.Logger
}

// State is what the owner reports every tick.
type State struct {
	X, Y      float64
	Animation string
	Facing    model.Facing
}

type Publisher struct {
	client *store.Client
	id     string
	name   string
	opts   Options
	due    *throttle.Interval

	last   State
	sent   bool
	joined bool
}

func NewPublisher(client *store.Client, id, name string, opts Options) *Publisher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		client: client,
		id:     id,
		name:   name,
		opts:   opts,
		due:    throttle.NewInterval(UpdateInterval, opts.Now),
	}
}

func (p *Publisher) ID() string { return p.id }

func (p *Publisher) path() string { return model.PlayerPath(p.id) }

// Join publishes the full document with online set.
func (p *Publisher) Join(at State) error {
	f := at.Facing
	doc := model.PlayerDoc{
		Name:       p.name,
		X:          math.Round(at.X),
		Y:          math.Round(at.Y),
		Animation:  at.Animation,
		Facing:     &f,
		Online:     true,
		Character:  p.opts.Character,
		LastUpdate: p.opts.Now().UnixMilli(),
	}
	if err := p.client.SetPath(p.path(), doc); err != nil {
		return err
	}
	p.last, p.sent, p.joined = at, true, true
	p.due.Mark(p.id)
	logging.Info(p.opts.Logger, "player online", "player", p.id, "name", p.name)
	return nil
}

// Update writes the owner's state at most once per UpdateInterval and only
// when it changed.
func (p *Publisher) Update(s State) bool {
	if !p.joined {
		return false
	}
	if p.sent && round(p.last) == round(s) {
		return false
	}
	if !p.due.Due(p.id) {
		return false
	}
	err := p.client.UpdatePath(p.path(), map[string]any{
		"x":          math.Round(s.X),
		"y":          math.Round(s.Y),
		"animation":  s.Animation,
		"facing":     s.Facing,
		"lastUpdate": p.opts.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	p.last, p.sent = s, true
	p.due.Mark(p.id)
	return true
}

// Leave marks the player offline. The document is kept.
func (p *Publisher) Leave() error {
	if !p.joined {
		return nil
	}
	p.joined = false
	logging.Info(p.opts.Logger, "player offline", "player", p.id)
	return p.client.UpdatePath(p.path(), map[string]any{
		"online":     false,
		"lastUpdate": p.opts.Now().UnixMilli(),
	})
}

func round(s State) State {
	s.X, s.Y = math.Round(s.X), math.Round(s.Y)
	return s
}
