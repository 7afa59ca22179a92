package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sibyl/internal/crawler"
	"sibyl/internal/domain"
	"sibyl/internal/text"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Committer interface {
	CommitDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
}

// Pipeline turns extracted text into committed, queryable chunks. All ids are
// derived from the source identity, so re-running an ingestion upserts the
// same chunks instead of duplicating them.
type Pipeline struct {
	chunker  *text.Chunker
	embedder Embedder
	corpus   Committer
}

func NewPipeline(chunker *text.Chunker, e Embedder, c Committer) *Pipeline {
	return &Pipeline{chunker: chunker, embedder: e, corpus: c}
}

// DocumentIDForURL derives the stable document id for a crawled page.
func DocumentIDForURL(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

// DocumentIDForUpload derives the stable document id for an uploaded file.
func DocumentIDForUpload(uploadID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(uploadID)).String()
}

// IngestPage chunks, embeds and commits one crawled page under the given
// website source.
func (p *Pipeline) IngestPage(ctx context.Context, siteID string, page crawler.Page) (int, error) {
	docUUID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(page.URL))
	doc := domain.Document{
		ID:         docUUID.String(),
		Origin:     domain.OriginWebsite,
		SourceURI:  page.URL,
		Title:      page.Title,
		WebsiteID:  siteID,
		IngestedAt: time.Now().UTC(),
	}
	return p.commit(ctx, doc, docUUID, page.Content)
}

// IngestUpload chunks, embeds and commits extracted text from one uploaded
// file.
func (p *Pipeline) IngestUpload(ctx context.Context, uploadID, filename, content string) (int, error) {
	docUUID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(uploadID))
	doc := domain.Document{
		ID:         docUUID.String(),
		Origin:     domain.OriginUpload,
		SourceURI:  uploadID,
		Title:      filename,
		IngestedAt: time.Now().UTC(),
	}
	return p.commit(ctx, doc, docUUID, content)
}

func (p *Pipeline) commit(ctx context.Context, doc domain.Document, docUUID uuid.UUID, content string) (int, error) {
	pieces := p.chunker.Split(content)
	if len(pieces) == 0 {
		return 0, nil
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		// The source header keeps attribution inside the embedded text, so a
		// retrieved chunk still names where it came from.
		prefixed := fmt.Sprintf("Source: %s\nURL: %s\n\n%s", doc.Title, doc.SourceURI, piece.Text)

		vec, err := p.embedder.Embed(ctx, prefixed)
		if err != nil {
			return 0, err
		}

		chunks = append(chunks, domain.Chunk{
			ID:         uuid.NewSHA1(docUUID, []byte(strconv.Itoa(piece.Start))).String(),
			DocumentID: doc.ID,
			Seq:        piece.Index,
			Text:       prefixed,
			Start:      piece.Start,
			End:        piece.End,
			Vector:     vec,
		})
	}

	if err := p.corpus.CommitDocument(ctx, doc, chunks); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "ingested document", "uri", doc.SourceURI, "chunks", len(chunks))
	return len(chunks), nil
}
