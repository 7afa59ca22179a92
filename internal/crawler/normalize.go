package crawler

import (
	"net/url"
	"strings"

	"sibyl/internal/domain"
)

// NormalizeURL canonicalizes a URL so the frontier and the visited set agree
// on identity: lowercased scheme and host, default port dropped, fragment
// stripped, trailing slash trimmed.
func NormalizeURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""

	if (c.Scheme == "http" && strings.HasSuffix(c.Host, ":80")) ||
		(c.Scheme == "https" && strings.HasSuffix(c.Host, ":443")) {
		c.Host = c.Hostname()
	}

	c.Path = strings.TrimSuffix(c.Path, "/")
	return c.String()
}

// ParseRoot validates a crawl seed: absolute http(s) URL with a host.
func ParseRoot(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, domain.Validationf("url", "invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.Validationf("url", "url must start with http:// or https://")
	}
	if u.Host == "" {
		return nil, domain.Validationf("url", "url has no host")
	}
	return u, nil
}

func sameHost(a, b *url.URL) bool {
	return strings.ToLower(a.Hostname()) == strings.ToLower(b.Hostname()) &&
		normalizePort(a) == normalizePort(b)
}

func normalizePort(u *url.URL) string {
	p := u.Port()
	if p == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			return "80"
		case "https":
			return "443"
		}
	}
	return p
}
