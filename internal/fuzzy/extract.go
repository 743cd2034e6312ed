package fuzzy

import "sort"

// Match is one scored choice.
type Match struct {
	Index  int
	Choice string
	Score  int
}

// ExtractOne returns the best-scoring choice under WRatio. Ties keep the
// earliest choice. ok is false when choices is empty.
func ExtractOne(query string, choices []string) (m Match, ok bool) {
	pq := Process(query)
	best := Match{Index: -1, Score: -1}
	for i, c := range choices {
		s := wratio(pq, Process(c))
		if s > best.Score {
			best = Match{Index: i, Choice: c, Score: s}
		}
	}
	if best.Index < 0 {
		return Match{}, false
	}
	return best, true
}

// Extract scores every choice and returns up to limit matches ordered by
// score descending; equal scores keep choice order. limit <= 0 means all.
func Extract(query string, choices []string, limit int) []Match {
	pq := Process(query)
	out := make([]Match, len(choices))
	for i, c := range choices {
		out[i] = Match{Index: i, Choice: c, Score: wratio(pq, Process(c))}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
