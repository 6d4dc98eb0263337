// Package session drives the replicated game phase: waiting, active, voting
// and ended. Every peer derives its phase from what it observes in the store,
// never from its own writes, so late joiners and restarted peers agree.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/logging"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

const (
	DefaultMinPlayers     = 4
	DefaultVotingDuration = 60 * time.Second
)

var ErrWrongPhase = errors.New("session: operation not allowed in this phase")

type Options struct {
	MinPlayers     int
	VotingDuration time.Duration
	Now            func() time.Time
	Logger         *log.Logger
	// OnPhase runs after every observed phase change, on the store dispatcher.
	OnPhase func(prev, next Phase, game model.GameDoc)
}

type Coordinator struct {
	client  *store.Client
	gameID  string
	localID string
	opts    Options

	mu        sync.Mutex
	game      model.GameDoc
	exists    bool
	phase     Phase
	sub       *store.Subscription
	joined    string
	requested bool
	closedFor int64
}

func New(client *store.Client, gameID, localID string, opts Options) *Coordinator {
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = DefaultMinPlayers
	}
	if opts.VotingDuration <= 0 {
		opts.VotingDuration = DefaultVotingDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		client:    client,
		gameID:    gameID,
		localID:   localID,
		opts:      opts,
		closedFor: -1,
	}
}

func (c *Coordinator) path() string { return model.GamePath(c.gameID) }

// Start subscribes to the game document. The first notification carries the
// current state, which is all a late joiner needs.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	sub := c.client.Subscribe(c.path(), c.observe)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	sub.Cancel()
}

func (c *Coordinator) observe(v any, exists bool) {
	var g model.GameDoc
	if exists {
		var err error
		g, err = model.DecodeGame(v)
		if err != nil {
			logging.Warn(c.opts.Logger, "ignoring malformed game", "game", c.gameID, "err", err)
			return
		}
	}
	next := DerivePhase(g, exists)

	c.mu.Lock()
	prev := c.phase
	c.game, c.exists, c.phase = g, exists, next
	if next == PhaseWaiting && prev != PhaseWaiting {
		c.requested = false
	}
	startNow := next == PhaseWaiting && !c.requested && len(g.Players) >= c.opts.MinPlayers
	if startNow {
		c.requested = true
	}
	rejoin := prev == PhaseEnded && next == PhaseWaiting && c.joined != ""
	if _, present := g.Players[c.localID]; present {
		rejoin = false
	}
	name := c.joined
	c.mu.Unlock()

	if prev != next {
		logging.Info(c.opts.Logger, "phase change", "game", c.gameID, "from", prev, "to", next)
		if c.opts.OnPhase != nil {
			c.opts.OnPhase(prev, next, g)
		}
	}
	if rejoin {
		// reset wiped the roster: wait for the next game
		_ = c.client.UpdatePath(c.path(), map[string]any{
			"players/" + c.localID: model.GamePlayer{Name: name, JoinedAt: c.opts.Now().UnixMilli()},
		})
	}
	if startNow {
		c.requestStart(g)
	}
}

// requestStart writes the roster and the imposter pick. Every observer of the
// same roster writes the same values, so concurrent starts collapse into one
// change. The writer transitions like everyone else: when its subscription
// observes state == active.
func (c *Coordinator) requestStart(g model.GameDoc) {
	roster := make([]string, 0, len(g.Players))
	for id := range g.Players {
		roster = append(roster, id)
	}
	sort.Strings(roster)
	imposter := PickImposter(c.gameID, g.Players, roster)
	logging.Info(c.opts.Logger, "requesting game start", "game", c.gameID, "players", len(roster))
	err := c.client.UpdatePath(c.path(), map[string]any{
		"state":         model.StateActive,
		"activePlayers": roster,
		"imposter":      model.Imposter{ID: imposter},
		"voting":        nil,
		"winner":        nil,
	})
	if err != nil {
		// a later roster notification may retry
		c.mu.Lock()
		c.requested = false
		c.mu.Unlock()
	}
}

// PickImposter chooses the imposter from the sorted roster. The pick depends
// only on replicated state: the game id and each player's join time, so a
// reset game with fresh joins gets a fresh pick.
func PickImposter(gameID string, players map[string]model.GamePlayer, roster []string) string {
	if len(roster) == 0 {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s", gameID)
	for _, id := range roster {
		_, _ = fmt.Fprintf(h, "\x00%s\x00%d", id, players[id].JoinedAt)
	}
	return roster[h.Sum64()%uint64(len(roster))]
}

// Join adds player to the roster, creating the game with player as host when
// absent. Joining a started game leaves the player out of activePlayers.
func (c *Coordinator) Join(ctx context.Context, player, name string) error {
	_, ok, err := c.client.GetOnceRetry(ctx, c.path())
	if err != nil {
		return fmt.Errorf("session: join %s: %w", c.gameID, err)
	}
	partial := map[string]any{
		"players/" + player: model.GamePlayer{Name: name, JoinedAt: c.opts.Now().UnixMilli()},
	}
	if !ok {
		partial["hostId"] = player
		partial["state"] = model.StateWaiting
	}
	if player == c.localID {
		c.mu.Lock()
		c.joined = name
		c.mu.Unlock()
	}
	return c.client.UpdatePath(c.path(), partial)
}

// Leave removes player from the roster while the game has not started.
func (c *Coordinator) Leave(ctx context.Context, player string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	phase := c.phase
	if player == c.localID {
		c.joined = ""
	}
	c.mu.Unlock()
	if phase != PhaseWaiting {
		return ErrWrongPhase
	}
	return c.client.UpdatePath(c.path(), map[string]any{"players/" + player: nil})
}

// Reset re-arms a finished game: roster and round state are cleared and the
// state returns to waiting.
func (c *Coordinator) Reset() error {
	return c.client.UpdatePath(c.path(), map[string]any{
		"state":         model.StateWaiting,
		"players":       nil,
		"activePlayers": nil,
		"imposter":      nil,
		"voting":        nil,
		"winner":        nil,
	})
}

// StartVoting opens a vote at now. It is driven by local game events and timers.
func (c *Coordinator) StartVoting(now time.Time) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	switch phase {
	case PhaseVoting:
		return nil
	case PhaseActive:
	default:
		return ErrWrongPhase
	}
	return c.client.UpdatePath(c.path(), map[string]any{
		"voting": model.Voting{StartTime: now.UnixMilli()},
	})
}

// CastVote records voter's vote. An empty target skips.
func (c *Coordinator) CastVote(voter, target string) error {
	c.mu.Lock()
	phase := c.phase
	active := contains(c.game.ActivePlayers, voter)
	c.mu.Unlock()
	if phase != PhaseVoting {
		return ErrWrongPhase
	}
	if !active {
		return fmt.Errorf("session: %s is not an active player", voter)
	}
	return c.client.UpdatePath(c.path(), map[string]any{
		"voting/votes/" + voter: model.Vote{Target: target},
	})
}

// Tick closes an open vote once every active player voted or the voting
// duration elapsed. Every peer computes the same tally from the same votes,
// so concurrent closers write identical results.
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	if c.phase != PhaseVoting || c.game.Voting == nil {
		c.mu.Unlock()
		return
	}
	g := c.game
	v := g.Voting
	if c.closedFor == v.StartTime {
		c.mu.Unlock()
		return
	}
	elapsed := now.Sub(time.UnixMilli(v.StartTime))
	if !allVoted(g.ActivePlayers, v.Votes) && elapsed < c.opts.VotingDuration {
		c.mu.Unlock()
		return
	}
	c.closedFor = v.StartTime
	c.mu.Unlock()

	res := Tally(v.Votes)
	logging.Info(c.opts.Logger, "vote closed", "game", c.gameID, "outcome", res.Outcome, "ejected", res.Ejected)
	partial := map[string]any{"voting/completed": true}
	if res.Outcome == OutcomeEjected {
		winner := model.WinnerImposter
		if g.Imposter != nil && g.Imposter.ID == res.Ejected {
			winner = model.WinnerCrew
		}
		partial["voting/ejectedPlayerId"] = res.Ejected
		partial["state"] = model.StateEnded
		partial["winner"] = winner
	}
	_ = c.client.UpdatePath(c.path(), partial)
}

func allVoted(active []string, votes map[string]model.Vote) bool {
	if len(active) == 0 {
		return false
	}
	for _, id := range active {
		if _, ok := votes[id]; !ok {
			return false
		}
	}
	return true
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Game returns the last observed game document.
func (c *Coordinator) Game() (model.GameDoc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game, c.exists
}

// IsImposter reports whether the local player was picked as imposter.
func (c *Coordinator) IsImposter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game.Imposter != nil && c.game.Imposter.ID == c.localID
}
