package session

import (
	"sort"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
)

type Outcome int

const (
	OutcomeNoVotes Outcome = iota
	OutcomeTie
	OutcomeSkipped
	OutcomeEjected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTie:
		return "tie"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeEjected:
		return "ejected"
	}
	return "no_votes"
}

type Result struct {
	Counts  map[string]int
	Leaders []string
	Outcome Outcome
	Ejected string
}

// Tally counts votes by target. An empty target is a skip.
func Tally(votes map[string]model.Vote) Result {
	counts := map[string]int{}
	for _, v := range votes {
		counts[v.Target]++
	}
	return Decide(counts)
}

// Decide ejects only a unique plurality winner. A shared maximum never
// resolves to an arbitrary elimination.
func Decide(counts map[string]int) Result {
	res := Result{Counts: counts}
	best := 0
	for target, n := range counts {
		switch {
		case n > best:
			best = n
			res.Leaders = []string{target}
		case n == best && n > 0:
			res.Leaders = append(res.Leaders, target)
		}
	}
	sort.Strings(res.Leaders)
	switch {
	case best == 0:
		res.Outcome = OutcomeNoVotes
	case len(res.Leaders) > 1:
		res.Outcome = OutcomeTie
	case res.Leaders[0] == "":
		res.Outcome = OutcomeSkipped
	default:
		res.Outcome = OutcomeEjected
		res.Ejected = res.Leaders[0]
	}
	return res
}
