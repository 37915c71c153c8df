package listing

type Match string

const (
	MatchPerfect Match = "perfect"
	MatchGap     Match = "gap"
	MatchNone    Match = "no-match"
)

// GapRatio is the share of the minimum price a budget may fall to and still be a gap match.
const GapRatio = 0.85

// Classify compares a listing budget b with a marketer's minimum price m.
// The gap bound is evaluated as 20b >= 17m so that 0.85m itself is never lost to rounding.
func Classify(b, m float64) Match {
	switch {
	case b >= m:
		return MatchPerfect
	case b*20 >= m*17:
		return MatchGap
	default:
		return MatchNone
	}
}
