// Package crawl fetches pages directly over HTTP as the fallback behind
// the hosted crawler: free, rate-limited, and good enough for most
// public news and authority pages.
package crawl

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/quest-group/content-engine/internal/resilience"
)

const (
	maxBodyBytes = 1 << 20 // 1 MiB per page
	userAgent    = "Mozilla/5.0 (compatible; QuestContentBot/1.0)"
)

// Page is one fetched and converted page.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	Links      []string
	Images     []string
	StatusCode int
}

// Fetcher fetches single pages with politeness limits.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a Fetcher. perSec bounds the request rate against any
// single run's targets.
func NewFetcher(perSec float64) *Fetcher {
	if perSec <= 0 {
		perSec = 2
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

// Fetch retrieves one page, detects blocks and paywalls, and converts the
// content to markdown.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "crawl: limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, resilience.NewAppError(resilience.KindInput, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: create request %s", targetURL))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewAppError(resilience.KindTransient, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: fetch %s", targetURL))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewAppError(resilience.KindTransient, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: read %s", targetURL))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodeNotFound,
			eris.Errorf("crawl: %s not found", targetURL))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.RateLimited(eris.Errorf("crawl: %s rate limited", targetURL), 0)
	case resp.StatusCode >= 500:
		return nil, resilience.NewAppError(resilience.KindTransient, resilience.CodeUpstream5xx,
			eris.Errorf("crawl: %s status %d", targetURL, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodeFetchFail,
			eris.Errorf("crawl: %s status %d", targetURL, resp.StatusCode))
	}

	if looksPaywalled(body) {
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodePaywall,
			eris.Errorf("crawl: %s paywalled", targetURL))
	}

	page, err := parsePage(targetURL, body)
	if err != nil {
		return nil, err
	}
	page.StatusCode = resp.StatusCode
	return page, nil
}

// Check verifies a URL resolves without downloading the body. Servers that
// reject HEAD get a ranged GET instead.
func (f *Fetcher) Check(ctx context.Context, targetURL string) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "crawl: limiter wait")
	}

	status, err := f.probe(ctx, http.MethodHead, targetURL)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = f.probe(ctx, http.MethodGet, targetURL)
	}
	if err != nil {
		return resilience.NewAppError(resilience.KindTransient, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: check %s", targetURL))
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return resilience.NewAppError(resilience.KindData, resilience.CodeNotFound,
			eris.Errorf("crawl: %s not found", targetURL))
	case status == http.StatusTooManyRequests:
		return resilience.RateLimited(eris.Errorf("crawl: %s rate limited", targetURL), 0)
	case status >= 500:
		return resilience.NewAppError(resilience.KindTransient, resilience.CodeUpstream5xx,
			eris.Errorf("crawl: %s status %d", targetURL, status))
	case status >= 400:
		return resilience.NewAppError(resilience.KindData, resilience.CodeFetchFail,
			eris.Errorf("crawl: %s status %d", targetURL, status))
	}
	return nil
}

func (f *Fetcher) probe(ctx context.Context, method, targetURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// parsePage extracts title, links, and images with goquery, strips chrome,
// and converts the remainder to markdown.
func parsePage(pageURL string, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: parse %s", pageURL))
	}

	page := &Page{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	base, _ := url.Parse(pageURL)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if abs := absoluteURL(base, href); abs != "" {
			page.Links = append(page.Links, abs)
		}
	})
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if abs := absoluteURL(base, src); abs != "" {
			page.Images = append(page.Images, abs)
		}
	})

	doc.Find("script, style, nav, footer, header, aside, form").Remove()
	content := doc.Find("body")
	html, err := content.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		html = string(body)
	}

	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodeFetchFail,
			eris.Wrapf(err, "crawl: convert %s", pageURL))
	}
	page.Markdown = strings.TrimSpace(markdown)

	if len(page.Markdown) < 80 {
		return nil, resilience.NewAppError(resilience.KindData, resilience.CodeEmpty,
			eris.Errorf("crawl: %s yielded no usable content", pageURL))
	}
	return page, nil
}

func absoluteURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") ||
		strings.HasPrefix(ref, "mailto:") || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// paywallMarkers are phrases that reliably indicate gated content.
var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscription required",
	"this content is for subscribers",
	"to continue reading, please subscribe",
	"metered-paywall",
	"piano-paywall",
}

func looksPaywalled(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, m := range paywallMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
