package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"sibyl/internal/extract"
)

const (
	userAgent    = "sibyl-crawler/1.0"
	fetchTimeout = 10 * time.Second
	maxBodyBytes = 5 * 1024 * 1024
)

// Page is one successfully fetched and reduced document.
type Page struct {
	URL     string
	Title   string
	Content string
}

// SkippedPage records a URL the crawl attempted but could not use.
type SkippedPage struct {
	URL    string
	Reason string
}

// Result is everything one site crawl produced. Pages and Skipped together
// count every fetch attempt.
type Result struct {
	Pages   []Page
	Skipped []SkippedPage
}

type Crawler struct {
	client *http.Client
	rps    float64
}

// NewCrawler builds a crawler fetching through client (a default
// 10s-timeout client when nil) at no more than rps requests per second
// within one site.
func NewCrawler(client *http.Client, rps float64) *Crawler {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if rps <= 0 {
		rps = 1
	}
	return &Crawler{client: client, rps: rps}
}

// Crawl walks the site breadth-first from root, fetching at most maxPages
// URLs. Per-page failures land in Result.Skipped; Crawl itself only fails on
// an unusable root or a cancelled context.
func (c *Crawler) Crawl(ctx context.Context, root string, maxPages int, exclusions []string) (Result, error) {
	return c.CrawlWith(ctx, root, maxPages, exclusions, nil)
}

// CrawlWith is Crawl with a visitor: each usable page is handed to visit as
// soon as it is reduced, before the next fetch. A visit error moves the page
// to Result.Skipped and the crawl continues.
func (c *Crawler) CrawlWith(ctx context.Context, root string, maxPages int, exclusions []string, visit func(Page) error) (Result, error) {
	rootURL, err := ParseRoot(root)
	if err != nil {
		return Result{}, err
	}

	limiter := rate.NewLimiter(rate.Limit(c.rps), 1)

	seen := map[string]bool{}
	start := NormalizeURL(rootURL)
	seen[start] = true
	frontier := []string{start}

	var res Result
	attempted := 0

	for len(frontier) > 0 && attempted < maxPages {
		current := frontier[0]
		frontier = frontier[1:]

		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		attempted++

		currentURL, _ := url.Parse(current)
		body, err := c.fetch(ctx, current)
		if err != nil {
			slog.WarnContext(ctx, "page fetch failed", "url", current, "error", err)
			res.Skipped = append(res.Skipped, SkippedPage{URL: current, Reason: err.Error()})
			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedPage{URL: current, Reason: fmt.Sprintf("parse html: %v", err)})
			continue
		}

		// Collect links before reduction mutates the document, and only
		// while budget remains.
		if attempted < maxPages {
			hrefs := collectHrefs(doc)
			frontier = append(frontier, DiscoverLinks(currentURL, hrefs, exclusions, seen)...)
		}

		reduced, err := extract.ReducePage(doc)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedPage{URL: current, Reason: err.Error()})
			continue
		}

		page := Page{URL: current, Title: reduced.Title, Content: reduced.Content}
		if visit != nil {
			if err := visit(page); err != nil {
				res.Skipped = append(res.Skipped, SkippedPage{URL: current, Reason: err.Error()})
				continue
			}
		}
		res.Pages = append(res.Pages, page)
	}

	slog.InfoContext(ctx, "crawl finished", "root", root, "pages", len(res.Pages), "skipped", len(res.Skipped))
	return res, nil
}

func (c *Crawler) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func collectHrefs(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}
