// Package fuzzy scores string similarity on a 0..100 scale.
//
// Inputs are processed first: lowercased, NFKC-normalized, every rune that is
// not a letter or digit replaced by a space, and whitespace collapsed.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

const (
	tokenScale      = 0.95
	partialScale    = 0.90
	farPartialScale = 0.60
)

// Process returns the canonical form compared by every scorer.
func Process(s string) string {
	s = norm.NFKC.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Ratio is the normalized edit similarity of the processed strings.
func Ratio(a, b string) int {
	return round(ratio(Process(a), Process(b)))
}

// PartialRatio scores the shorter string against its best-aligned window in
// the longer one.
func PartialRatio(a, b string) int {
	return round(partialRatio(Process(a), Process(b)))
}

// TokenSortRatio compares the strings after sorting their tokens.
func TokenSortRatio(a, b string) int {
	return round(tokenSort(Process(a), Process(b), ratio))
}

// TokenSetRatio compares the shared tokens against each side's remainder.
func TokenSetRatio(a, b string) int {
	return round(tokenSet(Process(a), Process(b), ratio))
}

// WRatio combines the scorers, weighting partial matches by how different the
// string lengths are. It returns 0 when either side is empty after processing.
func WRatio(a, b string) int {
	return wratio(Process(a), Process(b))
}

func wratio(pa, pb string) int {
	if pa == "" || pb == "" {
		return 0
	}

	base := ratio(pa, pb)
	la, lb := runeLen(pa), runeLen(pb)
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))

	if lenRatio < 1.5 {
		tsor := tokenSort(pa, pb, ratio) * tokenScale
		tser := tokenSet(pa, pb, ratio) * tokenScale
		return round(max(base, tsor, tser))
	}

	scale := partialScale
	if lenRatio > 8 {
		scale = farPartialScale
	}
	partial := partialRatio(pa, pb) * scale
	ptsor := tokenSort(pa, pb, partialRatio) * tokenScale * scale
	ptser := tokenSet(pa, pb, partialRatio) * tokenScale * scale
	return round(max(base, partial, ptsor, ptser))
}

func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := max(runeLen(a), runeLen(b))
	d := levenshtein.ComputeDistance(a, b)
	return 100 * float64(longest-d) / float64(longest)
}

func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	if len(short) == len(long) {
		return ratio(a, b)
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		if r := ratio(s, string(long[i:i+len(short)])); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func tokenSort(a, b string, score func(string, string) float64) float64 {
	return score(sortedTokens(a), sortedTokens(b))
}

func tokenSet(a, b string, score func(string, string) float64) float64 {
	ta, tb := tokenSetOf(a), tokenSetOf(b)

	var common, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	t0 := strings.Join(common, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	return max(score(t0, t1), score(t0, t2), score(t1, t2))
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func tokenSetOf(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func round(f float64) int {
	return int(math.Round(f))
}
