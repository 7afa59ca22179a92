package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var skipExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".css": true, ".js": true, ".mjs": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".tgz": true,
	".mp3": true, ".mp4": true, ".webm": true, ".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".exe": true, ".dmg": true, ".iso": true,
}

// DiscoverLinks resolves raw hrefs against the page URL and returns the
// normalized same-host links worth crawling. seen is shared across the whole
// crawl so a URL is enqueued at most once.
func DiscoverLinks(page *url.URL, hrefs []string, exclusions []string, seen map[string]bool) []string {
	var out []string

	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		link := page.ResolveReference(ref)

		if link.Scheme != "http" && link.Scheme != "https" {
			continue
		}
		if !sameHost(page, link) {
			continue
		}

		ext := strings.ToLower(path.Ext(link.Path))
		if skipExtensions[ext] {
			continue
		}

		normalized := NormalizeURL(link)

		excluded := false
		for _, ex := range exclusions {
			if matched, _ := regexp.MatchString(ex, normalized); matched {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}

	return out
}
