package transcript

import (
	"strings"
	"unicode"
)

type PostProcessConfig struct {
	Normalize bool
	Punctuate bool
}

// PostProcessor tidies recognizer text. Partials only get whitespace
// normalization; finals may also get a terminal punctuation mark.
type PostProcessor struct {
	cfg PostProcessConfig
}

func NewPostProcessor(cfg PostProcessConfig) *PostProcessor {
	return &PostProcessor{cfg: cfg}
}

func (p *PostProcessor) Partial(text string) string {
	if isBlank(text) {
		return ""
	}
	if p.cfg.Normalize {
		return normalizeSpace(text)
	}
	return strings.TrimSpace(text)
}

func (p *PostProcessor) Final(text string) string {
	if isBlank(text) {
		return ""
	}
	if p.cfg.Normalize {
		text = normalizeSpace(text)
	}
	if p.cfg.Punctuate {
		text = restorePunctuation(text)
	}
	return text
}

// normalizeSpace maps the ideographic space to ASCII, collapses whitespace
// runs and trims.
func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(text, "　", " ")), " ")
}

var (
	cjkQuestionOpeners = []string{"请问", "能否"}
	cjkQuestionMarkers = []string{"吗", "么", "是否"}
	questionOpeners    = []string{
		"what", "why", "how", "who", "where", "when", "which",
		"is", "are", "can", "could", "do", "does", "did", "will", "would", "should",
	}
)

func restorePunctuation(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	last := []rune(text)
	switch last[len(last)-1] {
	case '.', '!', '?', '。', '！', '？':
		return text
	}

	if hasHan(text) {
		if isCJKQuestion(text) {
			return text + "？"
		}
		return text + "。"
	}
	if isQuestion(text) {
		return text + "?"
	}
	return text + "."
}

func isCJKQuestion(text string) bool {
	for _, o := range cjkQuestionOpeners {
		if strings.HasPrefix(text, o) {
			return true
		}
	}
	for _, m := range cjkQuestionMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func isQuestion(text string) bool {
	first, _, _ := strings.Cut(text, " ")
	first = strings.ToLower(strings.TrimFunc(first, unicode.IsPunct))
	for _, o := range questionOpeners {
		if first == o {
			return true
		}
	}
	return false
}

func hasHan(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
