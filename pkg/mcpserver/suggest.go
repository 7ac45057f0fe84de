package mcpserver

import (
	"sort"
	"strings"
)

// levenshtein returns the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// suggestSimilar returns up to max candidates close to target, closest
// first. Candidates containing target, or contained in it, rank ahead of
// their edit distance.
func suggestSimilar(target string, candidates []string, max int) []string {
	type scored struct {
		name  string
		score int
	}

	lower := strings.ToLower(target)
	var out []scored
	for _, c := range candidates {
		if c == target {
			continue
		}
		lc := strings.ToLower(c)
		score := levenshtein(lower, lc)
		if strings.Contains(lc, lower) || strings.Contains(lower, lc) {
			score = 0
		}
		// far away names are noise
		if score > len(target)/2+1 {
			continue
		}
		out = append(out, scored{c, score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].name < out[j].name
	})

	names := make([]string, 0, max)
	for i := 0; i < len(out) && i < max; i++ {
		names = append(names, out[i].name)
	}
	return names
}
