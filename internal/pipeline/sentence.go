package pipeline

import (
	"strings"
	"unicode"
)

// splitSentences breaks a reply at sentence enders followed by whitespace
// (or at any ideographic ender) so synthesis can start on the first sentence
// while the rest is still pending. Blank pieces are dropped.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		boundary := false
		switch r {
		case '。', '！', '？':
			boundary = true
		case '.', '!', '?':
			boundary = i+1 < len(runes) && unicode.IsSpace(runes[i+1])
		}
		if !boundary {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
