// Package normalize cleans incoming article URLs and HTML fragments before
// they enter the pipeline.
package normalize

import (
	"net/url"
	"sort"
	"strings"
)

// DefaultTrackingParams are the query parameters stripped during URL
// normalization. Matching is case-insensitive.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"yclid", "gclid", "fbclid", "ref", "from", "source", "rss", "tg",
	"share", "partner", "erid", "ysclid", "rs", "_openstat",
}

// URL returns a stable form of rawURL: lowercase host, no fragment, no
// tracking parameters, remaining query keys sorted, trailing slash stripped
// except for the root path. Unparseable input is returned as is.
func URL(rawURL string, trackingParams []string) string {
	if rawURL == "" {
		return ""
	}
	if trackingParams == nil {
		trackingParams = DefaultTrackingParams
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	drop := make(map[string]bool, len(trackingParams))
	for _, p := range trackingParams {
		drop[strings.ToLower(p)] = true
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k, vals := range q {
		if drop[strings.ToLower(k)] {
			continue
		}
		empty := true
		for _, v := range vals {
			if v != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if v == "" {
				continue
			}
			if query.Len() > 0 {
				query.WriteByte('&')
			}
			query.WriteString(url.QueryEscape(k))
			query.WriteByte('=')
			query.WriteString(url.QueryEscape(v))
		}
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = query.String()
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return u.String()
}

// Domain extracts the lowercase host from a URL, or "" if unparseable.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ValidURL reports whether rawURL has both a scheme and a host.
func ValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}
