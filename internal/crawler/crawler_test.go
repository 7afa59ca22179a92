package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
)

const testParagraph = "This paragraph carries enough substance to clear the minimum content threshold, describing the behavior of the system in complete sentences that the reducer keeps."

func testPage(title string, links ...string) string {
	html := "<html><head><title>" + title + "</title></head><body><article>"
	html += "<p>" + testParagraph + "</p>"
	html += "<p>" + testParagraph + " It continues with a second paragraph for good measure.</p>"
	for _, l := range links {
		html += `<a href="` + l + `">link</a>`
	}
	return html + "</article></body></html>"
}

type countingMux struct {
	mu   sync.Mutex
	hits map[string]int
	mux  *http.ServeMux
}

func newCountingMux() *countingMux {
	return &countingMux{hits: map[string]int{}, mux: http.NewServeMux()}
}

func (c *countingMux) handle(path string, status int, body string) {
	c.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

func (c *countingMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.hits[r.URL.Path]++
	c.mu.Unlock()
	c.mux.ServeHTTP(w, r)
}

func (c *countingMux) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func TestCrawl_WalksSameHostBreadthFirst(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("external host fetched: %s", r.URL)
	}))
	defer external.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/a", "/b", external.URL+"/out", "mailto:x@y.z"))
	site.handle("/a", http.StatusOK, testPage("Page A"))
	site.handle("/b", http.StatusOK, testPage("Page B"))

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 10, nil)
	require.NoError(t, err)

	require.Len(t, res.Pages, 3)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, "Root", res.Pages[0].Title)
	assert.Equal(t, "Page A", res.Pages[1].Title)
	assert.Equal(t, "Page B", res.Pages[2].Title)
	assert.Contains(t, res.Pages[0].Content, "minimum content threshold")
}

func TestCrawl_BudgetStrict(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/a", "/b", "/c", "/d"))
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		site.handle(p, http.StatusOK, testPage("Page "+p))
	}

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, len(res.Pages)+len(res.Skipped))
	assert.Len(t, res.Pages, 2)
}

func TestCrawl_SkipsFailedPages(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/missing", "/tiny", "/ok"))
	site.handle("/missing", http.StatusNotFound, "gone")
	site.handle("/tiny", http.StatusOK, "<html><head><title>Tiny</title></head><body><p>stub</p></body></html>")
	site.handle("/ok", http.StatusOK, testPage("OK Page"))

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 10, nil)
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, "Root", res.Pages[0].Title)
	assert.Equal(t, "OK Page", res.Pages[1].Title)

	require.Len(t, res.Skipped, 2)
	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.URL] = s.Reason
	}
	assert.Contains(t, reasons[srv.URL+"/missing"], "status 404")
	assert.Contains(t, reasons[srv.URL+"/tiny"], "insufficient content")
}

func TestCrawl_FetchesEachURLOnce(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	// Every page links back to every other; normalization variants too.
	site.handle("/", http.StatusOK, testPage("Root", "/a", "/a#frag", "/a/", "/"))
	site.handle("/a", http.StatusOK, testPage("Page A", "/", "/a"))

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 10, nil)
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, 1, site.count("/"))
	assert.Equal(t, 1, site.count("/a"))
}

func TestCrawl_ExclusionPatterns(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/keep", "/admin/panel"))
	site.handle("/keep", http.StatusOK, testPage("Keep"))
	site.handle("/admin/panel", http.StatusOK, testPage("Admin"))

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 10, []string{".*/admin/.*"})
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, 0, site.count("/admin/panel"))
}

func TestCrawl_RejectsBadRoot(t *testing.T) {
	c := NewCrawler(nil, 1)

	_, err := c.Crawl(context.Background(), "ftp://example.com", 5, nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCrawl_ContextCancelled(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()
	site.handle("/", http.StatusOK, testPage("Root"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCrawler(srv.Client(), 1000)
	_, err := c.Crawl(ctx, srv.URL, 5, nil)
	assert.Error(t, err)
}

func TestCrawlWith_VisitsPagesInFetchOrder(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/a", "/b"))
	site.handle("/a", http.StatusOK, testPage("Page A"))
	site.handle("/b", http.StatusOK, testPage("Page B"))

	var visited []string
	c := NewCrawler(srv.Client(), 1000)
	res, err := c.CrawlWith(context.Background(), srv.URL, 10, nil, func(p Page) error {
		visited = append(visited, p.Title)
		if p.Title == "Page A" {
			return fmt.Errorf("embed failed")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Root", "Page A", "Page B"}, visited)

	// The rejected page moves to Skipped with the visitor's reason.
	require.Len(t, res.Pages, 2)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, srv.URL+"/a", res.Skipped[0].URL)
	assert.Equal(t, "embed failed", res.Skipped[0].Reason)
}

func TestCrawl_NonHTMLContentSkipped(t *testing.T) {
	site := newCountingMux()
	srv := httptest.NewServer(site)
	defer srv.Close()

	site.handle("/", http.StatusOK, testPage("Root", "/data"))
	site.mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"not":"html"}`)
	})

	c := NewCrawler(srv.Client(), 1000)
	res, err := c.Crawl(context.Background(), srv.URL, 10, nil)
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "unsupported content type")
}
