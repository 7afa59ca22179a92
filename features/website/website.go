package website

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/config"
	"sibyl/internal/crawler"
	"sibyl/internal/domain"
	"sibyl/internal/middleware"
	"sibyl/internal/worker"
)

// SiteResult is the outcome of ingesting one website. Success means at least
// one page was committed; partial page failures still count as success and
// show up in FailedPages.
type SiteResult struct {
	Success        bool   `json:"success"`
	URL            string `json:"url"`
	PagesScraped   int    `json:"pages_scraped"`
	PagesProcessed int    `json:"pages_processed"`
	ChunksAdded    int    `json:"chunks_added"`
	FailedPages    int    `json:"failed_pages"`
	Error          string `json:"error,omitempty"`
}

// MultiSiteResult aggregates a batch of site ingestions. TotalPages and
// TotalChunks count successful sites only.
type MultiSiteResult struct {
	Success         bool         `json:"success"`
	TotalSites      int          `json:"total_sites"`
	SuccessfulSites int          `json:"successful_sites"`
	TotalPages      int          `json:"total_pages"`
	TotalChunks     int          `json:"total_chunks"`
	Results         []SiteResult `json:"results"`
}

// Crawler walks one site breadth-first and hands each usable page to visit
// before fetching the next.
type Crawler interface {
	CrawlWith(ctx context.Context, root string, maxPages int, exclusions []string, visit func(crawler.Page) error) (crawler.Result, error)
}

// Ingestor chunks, embeds and commits one crawled page.
type Ingestor interface {
	IngestPage(ctx context.Context, siteID string, page crawler.Page) (int, error)
}

// Corpus is the slice of the corpus manager this feature touches.
type Corpus interface {
	PutWebsiteSource(ctx context.Context, src domain.WebsiteSource) error
	GetWebsiteSource(ctx context.Context, id string) (*domain.WebsiteSource, error)
	ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error)
	ClearWebsites(ctx context.Context) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	crawler         Crawler
	pipeline        Ingestor
	corpus          Corpus
	pub             EventPublisher
	siteConcurrency int
}

func NewService(c Crawler, pipeline Ingestor, corpus Corpus, pub EventPublisher, siteConcurrency int) *Service {
	if siteConcurrency <= 0 {
		siteConcurrency = 1
	}
	return &Service{crawler: c, pipeline: pipeline, corpus: corpus, pub: pub, siteConcurrency: siteConcurrency}
}

// Ingest crawls one site and commits each usable page as it arrives. All
// failures land in the result rather than an error return; a site with zero
// committed pages reports Success false.
func (s *Service) Ingest(ctx context.Context, rawURL string, maxPages int, exclusions []string) SiteResult {
	root, err := crawler.ParseRoot(rawURL)
	if err != nil {
		return SiteResult{URL: rawURL, Error: err.Error()}
	}

	// The same normalized root always maps to the same id, so re-ingesting a
	// site replaces it instead of duplicating it.
	siteID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(crawler.NormalizeURL(root))).String()

	var (
		processed int
		chunks    int
		title     string
	)
	res, err := s.crawler.CrawlWith(ctx, rawURL, maxPages, exclusions, func(page crawler.Page) error {
		added, err := s.pipeline.IngestPage(ctx, siteID, page)
		if err != nil {
			return err
		}
		if processed == 0 {
			title = page.Title
		}
		processed++
		chunks += added
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "website ingestion failed", "url", rawURL, "error", err)
		return SiteResult{URL: rawURL, Error: err.Error()}
	}

	scraped := len(res.Pages) + len(res.Skipped)
	if processed == 0 {
		return SiteResult{
			URL:          rawURL,
			PagesScraped: scraped,
			FailedPages:  len(res.Skipped),
			Error:        "No content scraped from website",
		}
	}

	src := domain.WebsiteSource{
		ID:         siteID,
		RootURL:    rawURL,
		Domain:     root.Hostname(),
		Title:      title,
		MaxPages:   maxPages,
		PageCount:  processed,
		ChunkCount: chunks,
		Exclusions: exclusions,
		ScrapedAt:  time.Now().UTC(),
	}
	if err := s.corpus.PutWebsiteSource(ctx, src); err != nil {
		// The pages are already committed; a failed source record must not
		// undo that.
		slog.ErrorContext(ctx, "failed to record website source", "url", rawURL, "error", err)
	}

	slog.InfoContext(ctx, "website ingestion complete", "url", rawURL, "pages", processed, "chunks", chunks)
	return SiteResult{
		Success:        true,
		URL:            rawURL,
		PagesScraped:   scraped,
		PagesProcessed: processed,
		ChunksAdded:    chunks,
		FailedPages:    len(res.Skipped),
	}
}

// IngestMultiple fans site crawls out over a bounded pool. One site's total
// failure never blocks another's success.
func (s *Service) IngestMultiple(ctx context.Context, urls []string, maxPagesPerSite int, exclusions []string) MultiSiteResult {
	results := make([]SiteResult, len(urls))

	sem := make(chan struct{}, s.siteConcurrency)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.Ingest(ctx, u, maxPagesPerSite, exclusions)
		}()
	}
	wg.Wait()

	out := MultiSiteResult{TotalSites: len(urls), Results: results}
	for _, r := range results {
		if !r.Success {
			continue
		}
		out.SuccessfulSites++
		out.TotalPages += r.PagesProcessed
		out.TotalChunks += r.ChunksAdded
	}
	out.Success = out.SuccessfulSites > 0
	return out
}

func (s *Service) ListSources(ctx context.Context) ([]domain.WebsiteSource, error) {
	return s.corpus.ListWebsiteSources(ctx)
}

func (s *Service) ClearSources(ctx context.Context) error {
	return s.corpus.ClearWebsites(ctx)
}

// ReSync queues a background re-crawl for a stored source. The exclusion
// patterns persisted at ingest time travel with the task.
func (s *Service) ReSync(ctx context.Context, id string) error {
	src, err := s.corpus.GetWebsiteSource(ctx, id)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(worker.ResyncPayload{
		SourceID:      src.ID,
		URL:           src.RootURL,
		MaxPages:      src.MaxPages,
		Exclusions:    src.Exclusions,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicResync, payload); err != nil {
		slog.Error("failed to publish resync event", "error", err)
		return err
	}
	slog.Info("published resync event", "source_id", src.ID, "url", src.RootURL)
	return nil
}

// Resync re-runs the crawl and ingestion for one source. It satisfies the
// resync worker's contract; a re-crawl that commits nothing comes back as an
// error so the consumer can requeue or park the task.
func (s *Service) Resync(ctx context.Context, sourceID, url string, maxPages int, exclusions []string) error {
	res := s.Ingest(ctx, url, maxPages, exclusions)
	if !res.Success {
		return fmt.Errorf("resync %s: %s", sourceID, res.Error)
	}
	return nil
}
