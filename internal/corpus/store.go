package corpus

import (
	"context"

	"sibyl/internal/domain"
)

// Store tracks document and website-source metadata. Chunk text and vectors
// live in the vector index; the store holds what answers attribution and
// stats queries.
type Store interface {
	// PutDocument upserts by document id.
	PutDocument(ctx context.Context, doc domain.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// PutWebsiteSource upserts by source id.
	PutWebsiteSource(ctx context.Context, src domain.WebsiteSource) error
	GetWebsiteSource(ctx context.Context, id string) (*domain.WebsiteSource, error)
	// ListWebsiteSources returns sources newest first.
	ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error)
	// DeleteWebsiteSources removes all website sources and their documents,
	// returning the ids of the removed documents.
	DeleteWebsiteSources(ctx context.Context) ([]string, error)

	Stats(ctx context.Context) (domain.CorpusStats, error)
	Clear(ctx context.Context) error
}
