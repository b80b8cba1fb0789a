package crawl

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/normalize"
)

// SiteCrawl walks same-host links breadth-first from a start URL. Failed
// pages are skipped; the crawl succeeds when at least one page converts.
func (f *Fetcher) SiteCrawl(ctx context.Context, startURL string, maxDepth, maxPages int) ([]Page, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	if maxPages <= 0 {
		maxPages = 10
	}

	start, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}
	host := strings.TrimPrefix(strings.ToLower(start.Host), "www.")

	type queued struct {
		url   string
		depth int
	}
	queue := []queued{{url: startURL, depth: 0}}
	seen := map[string]bool{}
	var pages []Page

	for len(queue) > 0 && len(pages) < maxPages {
		if ctx.Err() != nil {
			return pages, ctx.Err()
		}
		next := queue[0]
		queue = queue[1:]

		canon, err := normalize.CanonicalizeURL(next.url)
		if err != nil || seen[canon] {
			continue
		}
		seen[canon] = true

		page, err := f.Fetch(ctx, next.url)
		if err != nil {
			zap.L().Debug("crawl: page skipped", zap.String("url", next.url), zap.Error(err))
			continue
		}
		pages = append(pages, *page)

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range page.Links {
			if normalize.Host(link) != host {
				continue
			}
			queue = append(queue, queued{url: link, depth: next.depth + 1})
		}
	}
	return pages, nil
}
