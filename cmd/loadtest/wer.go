package main

import (
	"strings"
	"unicode"
)

// wordErrorRate is (substitutions + insertions + deletions) / len(reference),
// comparing lower-cased words with surrounding punctuation removed. An empty
// reference scores 0.
func wordErrorRate(reference, hypothesis string) float64 {
	ref := words(reference)
	hyp := words(hypothesis)
	if len(ref) == 0 {
		return 0
	}

	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return float64(prev[len(hyp)]) / float64(len(ref))
}

func words(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
