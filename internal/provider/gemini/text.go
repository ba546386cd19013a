package gemini

import (
	"regexp"
	"strings"
)

var codeFencePattern = regexp.MustCompile("(?s)```(?:\\w+\\n)?(.*?)\\n?```")

// StripCodeFences removes markdown code fences while keeping their body.
// The model is instructed to answer in plain chat formatting, but still
// occasionally wraps whole answers in fences.
func StripCodeFences(text string) string {
	return strings.TrimSpace(codeFencePattern.ReplaceAllString(text, "$1"))
}

// SplitMessage splits text into ordered chunks of at most limit
// characters. Chunks prefer to break at the last newline before the
// limit; when a chunk has no newline, it is split hard at the boundary.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		split := strings.LastIndex(text[:limit], "\n")
		if split <= 0 {
			split = limit
		}
		chunks = append(chunks, text[:split])
		text = strings.TrimLeft(text[split:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
