package perplexity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeepResearchRequest parameterizes a research query.
type DeepResearchRequest struct {
	Topic string
	// Breadth bounds the number of sources the model is asked to gather.
	Breadth int
	// Focus narrows the query with disambiguating tokens (used by the
	// refined re-research wave).
	Focus []string
}

// DeepResearchItem is one gathered source with a summary.
type DeepResearchItem struct {
	URL     string
	Title   string
	Summary string
	Date    string
}

// DeepResearchResult holds the research output plus seed URLs that can
// feed a secondary crawl wave.
type DeepResearchResult struct {
	Items []DeepResearchItem
	Seeds []string
	Usage Usage
}

func (c *httpClient) DeepResearch(ctx context.Context, req DeepResearchRequest) (*DeepResearchResult, error) {
	breadth := req.Breadth
	if breadth <= 0 {
		breadth = 8
	}

	prompt := fmt.Sprintf(
		"Research the topic %q. Survey up to %d distinct reputable sources and summarize the key facts from each.",
		req.Topic, breadth,
	)
	if len(req.Focus) > 0 {
		prompt += " Restrict to sources about: " + strings.Join(req.Focus, ", ") + "."
	}

	resp, err := c.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "You are a research assistant. Cite every source you use."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	result := &DeepResearchResult{Usage: resp.Usage}

	summary := ""
	if len(resp.Choices) > 0 {
		summary = resp.Choices[0].Message.Content
	}

	seen := make(map[string]bool)
	for _, sr := range resp.SearchResults {
		if sr.URL == "" || seen[sr.URL] {
			continue
		}
		seen[sr.URL] = true
		result.Items = append(result.Items, DeepResearchItem{
			URL:     sr.URL,
			Title:   sr.Title,
			Summary: sr.Snippet,
			Date:    sr.Date,
		})
		result.Seeds = append(result.Seeds, sr.URL)
	}
	for _, cite := range resp.Citations {
		if cite == "" || seen[cite] {
			continue
		}
		seen[cite] = true
		result.Items = append(result.Items, DeepResearchItem{URL: cite})
		result.Seeds = append(result.Seeds, cite)
	}

	// No structured sources: fall back to a single synthetic item carrying
	// the model summary so downstream synthesis still has the text.
	if len(result.Items) == 0 && summary != "" {
		result.Items = append(result.Items, DeepResearchItem{
			Title:   req.Topic,
			Summary: summary,
		})
	} else if summary != "" && len(result.Items) > 0 {
		// Attach the overall narrative to the first item when the per-source
		// snippets are thin.
		if result.Items[0].Summary == "" {
			result.Items[0].Summary = summary
		}
	}

	if len(result.Items) > breadth {
		result.Items = result.Items[:breadth]
	}
	return result, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
