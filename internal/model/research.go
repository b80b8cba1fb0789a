package model

import (
	"time"
)

// SourceKind identifies one of the research information sources.
type SourceKind string

const (
	SourceNewsSearch   SourceKind = "news_search"
	SourceDeepResearch SourceKind = "deep_research"
	SourceCrawledNews  SourceKind = "crawled_news"
	SourceCrawledAuth  SourceKind = "crawled_authoritative"
	SourceGraphContext SourceKind = "graph_context"
)

// ResearchItem is a single retrieved document. Items without a URL are
// synthetic (model-generated context) and are excluded from URL validation.
type ResearchItem struct {
	URL         string     `json:"url,omitempty"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet,omitempty"`
	FullText    string     `json:"full_text,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Confidence  float64    `json:"confidence"`
	Synthetic   bool       `json:"synthetic,omitempty"`
}

// SourceBundle holds everything one adapter returned, with provenance.
// A bundle that failed after retries is empty and carries a FailureNote.
type SourceBundle struct {
	Kind        SourceKind     `json:"kind"`
	Origin      string         `json:"origin"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	Items       []ResearchItem `json:"items"`
	Seeds       []string       `json:"seeds,omitempty"`
	CostUSD     float64        `json:"cost_usd"`
	LatencyMS   int64          `json:"latency_ms"`
	FailureNote string         `json:"failure_note,omitempty"`
}

// Empty reports whether the bundle carries no usable items.
func (b SourceBundle) Empty() bool {
	return len(b.Items) == 0
}

// ResearchBundle is the joined result of the research fan-out, keyed by
// adapter identity rather than completion order.
type ResearchBundle struct {
	NewsSearch   SourceBundle `json:"news_search"`
	DeepResearch SourceBundle `json:"deep_research"`
	CrawledNews  SourceBundle `json:"crawled_news"`
	CrawledAuth  SourceBundle `json:"crawled_authoritative"`
	GraphContext SourceBundle `json:"graph_context,omitempty"`
}

// Sources returns the four fan-out bundles in adapter order.
func (r ResearchBundle) Sources() []SourceBundle {
	return []SourceBundle{r.NewsSearch, r.DeepResearch, r.CrawledNews, r.CrawledAuth}
}

// NonEmptyCount returns how many fan-out sources yielded at least one item.
func (r ResearchBundle) NonEmptyCount() int {
	n := 0
	for _, s := range r.Sources() {
		if !s.Empty() {
			n++
		}
	}
	return n
}

// TotalCost sums the vendor cost across all sources.
func (r ResearchBundle) TotalCost() float64 {
	total := r.GraphContext.CostUSD
	for _, s := range r.Sources() {
		total += s.CostUSD
	}
	return total
}

// DedupeItems flattens all sources into a single list with one entry per
// URL. When multiple sources return the same URL the winner is chosen by
// highest confidence, then presence of full text, then earliest retrieval.
// Synthetic items (no URL) are always kept.
func (r ResearchBundle) DedupeItems() []ResearchItem {
	type keyed struct {
		item        ResearchItem
		retrievedAt time.Time
	}
	var out []ResearchItem
	byURL := make(map[string]keyed)
	order := make([]string, 0, 32)

	for _, src := range append(r.Sources(), r.GraphContext) {
		for _, it := range src.Items {
			if it.URL == "" {
				it.Synthetic = true
				out = append(out, it)
				continue
			}
			prev, seen := byURL[it.URL]
			if !seen {
				byURL[it.URL] = keyed{item: it, retrievedAt: src.RetrievedAt}
				order = append(order, it.URL)
				continue
			}
			if betterItem(it, src.RetrievedAt, prev.item, prev.retrievedAt) {
				byURL[it.URL] = keyed{item: it, retrievedAt: src.RetrievedAt}
			}
		}
	}

	deduped := make([]ResearchItem, 0, len(order)+len(out))
	for _, u := range order {
		deduped = append(deduped, byURL[u].item)
	}
	return append(deduped, out...)
}

func betterItem(a ResearchItem, aAt time.Time, b ResearchItem, bAt time.Time) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if (a.FullText != "") != (b.FullText != "") {
		return a.FullText != ""
	}
	return aAt.Before(bAt)
}

// SourceURLs returns the distinct non-synthetic URLs across the bundle,
// in deduped order.
func (r ResearchBundle) SourceURLs() []string {
	var urls []string
	for _, it := range r.DedupeItems() {
		if it.URL != "" {
			urls = append(urls, it.URL)
		}
	}
	return urls
}
