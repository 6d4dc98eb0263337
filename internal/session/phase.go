package session

import "github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"

// Phase is the locally derived stage of a game round.
type Phase string

const (
	PhaseNone    Phase = ""
	PhaseWaiting Phase = "waiting"
	PhaseActive  Phase = "active"
	PhaseVoting  Phase = "voting"
	PhaseEnded   Phase = "ended"
)

// DerivePhase maps replicated state onto a phase. Voting is not a top-level
// state: it is an active game with an open voting sub-document.
func DerivePhase(g model.GameDoc, exists bool) Phase {
	if !exists {
		return PhaseNone
	}
	switch g.State {
	case model.StateWaiting, "":
		return PhaseWaiting
	case model.StateActive:
		if g.Voting != nil && !g.Voting.Completed {
			return PhaseVoting
		}
		return PhaseActive
	case model.StateEnded:
		return PhaseEnded
	}
	return PhaseNone
}
