package chunk

import (
	"fmt"
	"math"
	"strings"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// Strategy selects how unit sentiments combine into a record sentiment.
type Strategy string

const (
	// StrategyWeighted ranks labels by summed confidence, then by vote
	// count, then by the single most confident vote.
	StrategyWeighted Strategy = "weighted"
	// StrategyMajority ranks by vote count first, then as weighted.
	StrategyMajority Strategy = "majority"
)

// ParseStrategy accepts "weighted" (or "") and "majority".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyMajority:
		return StrategyMajority, nil
	}
	return "", fmt.Errorf("%w: unknown merge strategy %q", internalerr.ErrInvalidConfig, s)
}

// Vote is one unit's sentiment.
type Vote struct {
	Label      model.Label
	Confidence float64
}

type tally struct {
	label     model.Label
	weight    float64
	count     int
	best      float64
	firstSeen int
}

const eps = 1e-9

// Merge combines votes into one label and its confidence, the mean
// confidence of the winning votes. Labels that tie on every criterion are
// settled by the earliest vote, so a split never collapses to neutral on its
// own. Merge returns "" and 0 for no votes.
func Merge(votes []Vote, strategy Strategy) (model.Label, float64) {
	if len(votes) == 0 {
		return "", 0
	}

	var tallies []*tally
	byLabel := make(map[model.Label]*tally, 3)
	for i, v := range votes {
		t, ok := byLabel[v.Label]
		if !ok {
			t = &tally{label: v.Label, firstSeen: i}
			byLabel[v.Label] = t
			tallies = append(tallies, t)
		}
		t.weight += v.Confidence
		t.count++
		t.best = math.Max(t.best, v.Confidence)
	}

	win := tallies[0]
	for _, t := range tallies[1:] {
		if beats(t, win, strategy) {
			win = t
		}
	}
	return win.label, win.weight / float64(win.count)
}

// beats reports whether a ranks strictly above b.
func beats(a, b *tally, strategy Strategy) bool {
	byWeight := func() int { return cmpFloat(a.weight, b.weight) }
	byCount := func() int { return a.count - b.count }

	order := []func() int{byWeight, byCount}
	if strategy == StrategyMajority {
		order = []func() int{byCount, byWeight}
	}
	order = append(order, func() int { return cmpFloat(a.best, b.best) })

	for _, cmp := range order {
		if c := cmp(); c != 0 {
			return c > 0
		}
	}
	return a.firstSeen < b.firstSeen
}

func cmpFloat(a, b float64) int {
	switch {
	case a > b+eps:
		return 1
	case b > a+eps:
		return -1
	}
	return 0
}
