package tier

import "strings"

// AutoCorrectThreshold is the minimum confidence for a correction to apply
// without confirmation. Below it the action downgrades to confirm_then_run.
const AutoCorrectThreshold = 0.8

// minMatchConfidence is the floor under which a candidate is not considered
// a plausible typo at all.
const minMatchConfidence = 0.5

// Corrector suggests corrections for mistyped command verbs using
// Damerau-Levenshtein distance against a known-verb list.
type Corrector struct {
	known []string
}

// NewCorrector builds a corrector over the given verb list.
func NewCorrector(known []string) *Corrector {
	return &Corrector{known: known}
}

// Correct returns the best-matching known verb and a confidence in [0,1].
// It returns ("", 0) when no plausible match exists or the verb is already
// known.
func (c *Corrector) Correct(verb string) (string, float64) {
	verb = strings.ToLower(verb)
	if verb == "" {
		return "", 0
	}

	best := ""
	bestConfidence := 0.0
	for _, candidate := range c.known {
		if candidate == verb {
			return "", 0
		}
		dist := damerauLevenshtein(verb, candidate)
		longest := len(verb)
		if len(candidate) > longest {
			longest = len(candidate)
		}
		confidence := 1.0 - float64(dist)/float64(longest)
		if confidence > bestConfidence {
			best = candidate
			bestConfidence = confidence
		}
	}
	if bestConfidence < minMatchConfidence {
		return "", 0
	}
	return best, bestConfidence
}

// damerauLevenshtein computes edit distance counting adjacent transpositions
// as a single edit, so swaps like "gti" -> "git" score as one step.
func damerauLevenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	rows := make([][]int, la+1)
	for i := range rows {
		rows[i] = make([]int, lb+1)
		rows[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		rows[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d := min(rows[i-1][j]+1, rows[i][j-1]+1, rows[i-1][j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				d = min(d, rows[i-2][j-2]+1)
			}
			rows[i][j] = d
		}
	}
	return rows[la][lb]
}
