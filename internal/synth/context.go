package synth

import (
	"fmt"
	"strings"

	"github.com/quest-group/content-engine/internal/model"
)

const (
	// maxContextChars bounds the rendered research briefing so the full
	// conversation stays inside the model's context window.
	maxContextChars = 120_000
	// maxItemChars bounds any single document inside the briefing.
	maxItemChars = 12_000
)

// renderResearch flattens a deduped research bundle into the briefing text
// the synthesis prompt consumes. Items are emitted in dedupe order until
// the character budget is spent.
func renderResearch(research model.ResearchBundle) string {
	var b strings.Builder
	for i, item := range research.DedupeItems() {
		section := renderItem(i+1, item)
		if b.Len()+len(section) > maxContextChars {
			break
		}
		b.WriteString(section)
	}
	return b.String()
}

func renderItem(n int, item model.ResearchItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Source %d: %s\n", n, strings.TrimSpace(item.Title))
	if item.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", item.URL)
	} else {
		b.WriteString("URL: (model-generated context, do not cite)\n")
	}
	if item.PublishedAt != nil {
		fmt.Fprintf(&b, "Published: %s\n", item.PublishedAt.Format("2006-01-02"))
	}

	body := item.FullText
	if body == "" {
		body = item.Snippet
	}
	body = strings.TrimSpace(body)
	if len(body) > maxItemChars {
		body = body[:maxItemChars] + "\n[truncated]"
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// sourceURLSet returns the set of citable URLs in a bundle. Synthetic items
// contribute nothing; the profile synthesizer uses this to discard
// hallucinated citations.
func sourceURLSet(research model.ResearchBundle) map[string]bool {
	set := make(map[string]bool)
	for _, u := range research.SourceURLs() {
		set[u] = true
	}
	return set
}
