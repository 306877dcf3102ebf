package script

import (
	"regexp"
	"strings"
)

// Sentence-terminal punctuation, including the full-width marks and the
// ellipsis common in Korean dialog scripts.
const terminalPunct = ".?!？！…"

// SplitSentences splits text at sentence-ending punctuation, keeping the
// punctuation with its sentence. Text without terminal punctuation comes back
// as a single sentence. Synthesizing sentence by sentence gives the backends
// better prosody than one long utterance.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
		inRun     bool
	)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, r := range text {
		if strings.ContainsRune(terminalPunct, r) {
			current.WriteRune(r)
			inRun = true
			continue
		}
		if inRun {
			flush()
			inRun = false
		}
		current.WriteRune(r)
	}
	flush()

	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace runs before handing text to a backend.
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
