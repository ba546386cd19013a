package search

import (
	"fmt"
	"strings"
)

// NoResultText is embedded as the tool result when a lookup returned
// nothing useful (or failed). The expert still gets a second round so it
// can answer from its own knowledge.
const NoResultText = "No search results found for this query."

// Format renders an instant answer as plain text suitable for embedding
// in a tool-result turn. The model receives it verbatim and is expected
// to cite from it, not interpret its structure.
func Format(a *InstantAnswer) string {
	if a == nil {
		return NoResultText
	}

	var b strings.Builder

	if a.Heading != "" {
		fmt.Fprintf(&b, "%s\n", a.Heading)
	}
	if abstract := firstNonEmpty(a.AbstractText, a.Abstract); abstract != "" {
		fmt.Fprintf(&b, "%s\n", abstract)
	}
	if a.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", a.Answer)
	}

	writeTopics(&b, "Results", a.Results)
	writeTopics(&b, "Related", a.RelatedTopics)

	out := strings.TrimSpace(b.String())
	if out == "" {
		return NoResultText
	}
	return out
}

func writeTopics(b *strings.Builder, label string, topics []RelatedTopic) {
	var lines []string
	for _, t := range topics {
		if t.Text != "" && t.FirstURL != "" {
			lines = append(lines, fmt.Sprintf("- %s (%s)", t.Text, t.FirstURL))
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n", label, strings.Join(lines, "\n"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
