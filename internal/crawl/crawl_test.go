package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quest-group/content-engine/internal/resilience"
)

func htmlPage(title, body string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head>
<body>
<nav><a href="/ignored">nav link</a></nav>
<article><h1>%s</h1><p>%s</p>
<a href="/about">About</a>
<a href="https://other.example/page">Offsite</a>
<img src="/img/photo.png">
</article>
<footer>footer chrome</footer>
</body></html>`, title, title, body)
}

var longParagraph = strings.Repeat("Substantive sentence with enough words to convert cleanly. ", 5)

func TestFetch_ConvertsToMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("Acme About", longParagraph))
	}))
	defer srv.Close()

	f := NewFetcher(100)
	page, err := f.Fetch(context.Background(), srv.URL+"/about")
	require.NoError(t, err)

	assert.Equal(t, "Acme About", page.Title)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.Markdown, "Acme About")
	assert.Contains(t, page.Markdown, "Substantive sentence")
	// Nav and footer chrome are stripped before conversion.
	assert.NotContains(t, page.Markdown, "footer chrome")

	assert.Contains(t, page.Links, srv.URL+"/about")
	assert.Contains(t, page.Links, "https://other.example/page")
	assert.Contains(t, page.Images, srv.URL+"/img/photo.png")
}

func TestFetch_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		wantKind resilience.Kind
		wantCode string
	}{
		{http.StatusNotFound, resilience.KindData, resilience.CodeNotFound},
		{http.StatusTooManyRequests, resilience.KindTransient, resilience.CodeRateLimited},
		{http.StatusBadGateway, resilience.KindTransient, resilience.CodeUpstream5xx},
		{http.StatusForbidden, resilience.KindData, resilience.CodeFetchFail},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := NewFetcher(100)
			_, err := f.Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, resilience.KindOf(err))
			assert.Equal(t, tt.wantCode, resilience.CodeOf(err))
		})
	}
}

func TestFetch_PaywallDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, htmlPage("Gated", "Subscribe to continue reading this story."))
	}))
	defer srv.Close()

	f := NewFetcher(100)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, resilience.CodePaywall, resilience.CodeOf(err))
}

func TestFetch_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Thin</title></head><body><p>hi</p></body></html>`)
	}))
	defer srv.Close()

	f := NewFetcher(100)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, resilience.CodeEmpty, resilience.CodeOf(err))
}

func TestCheck(t *testing.T) {
	var sawRange bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			sawRange = r.Header.Get("Range") == "bytes=0-0"
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	f := NewFetcher(100)
	require.NoError(t, f.Check(context.Background(), srv.URL))
	// HEAD was rejected, so the probe fell back to a ranged GET.
	assert.True(t, sawRange)
}

func TestCheck_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(100)
	err := f.Check(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Equal(t, resilience.CodeNotFound, resilience.CodeOf(err))
}

func TestSiteCrawl_FollowsSameHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Home</title></head><body>
<p>%s</p>
<a href="%s/team">Team</a>
<a href="https://elsewhere.example/x">Offsite</a>
</body></html>`, longParagraph, srv.URL)
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Team</title></head><body><p>%s</p></body></html>`, longParagraph)
	})

	f := NewFetcher(100)
	pages, err := f.SiteCrawl(context.Background(), srv.URL, 2, 10)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Home", pages[0].Title)
	assert.Equal(t, "Team", pages[1].Title)
}

func TestSiteCrawl_SkipsFailedPages(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Home</title></head><body>
<p>%s</p><a href="%s/broken">Broken</a></body></html>`, longParagraph, srv.URL)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	f := NewFetcher(100)
	pages, err := f.SiteCrawl(context.Background(), srv.URL, 2, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Home", pages[0].Title)
}

func TestSiteCrawl_RespectsPageBudget(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var links strings.Builder
		for i := 0; i < 5; i++ {
			fmt.Fprintf(&links, `<a href="%s/p/%d">p%d</a>`, srv.URL, i, i)
		}
		fmt.Fprintf(w, `<html><head><title>%s</title></head><body><p>%s</p>%s</body></html>`,
			r.URL.Path, longParagraph, links.String())
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>%s</title></head><body><p>%s</p></body></html>`,
			r.URL.Path, longParagraph)
	})

	f := NewFetcher(100)
	pages, err := f.SiteCrawl(context.Background(), srv.URL, 3, 3)
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}
