package normalize

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// trackingKeys are query parameters stripped during canonicalization.
// utm_* is handled by prefix.
var trackingKeys = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"ref":    true,
}

// CanonicalizeURL produces the canonical form of a URL: lowercase scheme
// and host, fragment stripped, default ports removed, tracking query keys
// dropped, remaining query alphabetized, trailing slash removed except at
// the root. The function is idempotent.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", eris.Wrapf(err, "normalize: parse url %q", raw)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", eris.Errorf("normalize: url %q missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	// Strip default ports.
	if h, p, ok := strings.Cut(u.Host, ":"); ok {
		if (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
			u.Host = h
		}
	}

	// Drop tracking keys, alphabetize the rest.
	q := u.Query()
	for k := range q {
		if trackingKeys[k] || strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	// Trailing slash: keep only at root.
	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}

	return u.String(), nil
}

// Host extracts the lowercase host of a URL without the www prefix.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if u.Host == "" {
		u, err = url.Parse("https://" + strings.TrimSpace(raw))
		if err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
