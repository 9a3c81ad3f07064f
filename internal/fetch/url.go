package fetch

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Canonicalize normalizes a URL for frontier identity: lower-cased scheme
// and host, fragment removed, trailing slash stripped from the path.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// FilterLinks canonicalizes raw hrefs resolved against base and keeps only
// same-origin URLs under the documentation prefix. The result is a sorted
// set with duplicates collapsed.
func FilterLinks(base *url.URL, prefix string, hrefs []string) []string {
	seen := make(map[string]struct{})

	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		if !u.IsAbs() {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}

		canon, err := Canonicalize(u.String())
		if err != nil {
			continue
		}
		if !strings.HasPrefix(canon, prefix) {
			continue
		}
		seen[canon] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
