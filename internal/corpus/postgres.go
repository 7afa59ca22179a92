package corpus

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"sibyl/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutDocument(ctx context.Context, doc domain.Document) error {
	query := `
		INSERT INTO documents (id, origin, source_uri, title, website_id, chunk_count, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET origin = EXCLUDED.origin,
		    source_uri = EXCLUDED.source_uri,
		    title = EXCLUDED.title,
		    website_id = EXCLUDED.website_id,
		    chunk_count = EXCLUDED.chunk_count,
		    ingested_at = EXCLUDED.ingested_at
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.Origin, doc.SourceURI, doc.Title, doc.WebsiteID, doc.ChunkCount, doc.IngestedAt)
	return err
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	query := `
		SELECT id, origin, source_uri, title, website_id, chunk_count, ingested_at
		FROM documents ORDER BY ingested_at DESC, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Origin, &d.SourceURI, &d.Title, &d.WebsiteID, &d.ChunkCount, &d.IngestedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) PutWebsiteSource(ctx context.Context, src domain.WebsiteSource) error {
	query := `
		INSERT INTO website_sources (id, root_url, domain, title, max_pages, page_count, chunk_count, exclusions, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET root_url = EXCLUDED.root_url,
		    domain = EXCLUDED.domain,
		    title = EXCLUDED.title,
		    max_pages = EXCLUDED.max_pages,
		    page_count = EXCLUDED.page_count,
		    chunk_count = EXCLUDED.chunk_count,
		    exclusions = EXCLUDED.exclusions,
		    scraped_at = EXCLUDED.scraped_at
	`
	_, err := s.db.ExecContext(ctx, query,
		src.ID, src.RootURL, src.Domain, src.Title, src.MaxPages, src.PageCount, src.ChunkCount, pq.Array(src.Exclusions), src.ScrapedAt)
	return err
}

func (s *PostgresStore) GetWebsiteSource(ctx context.Context, id string) (*domain.WebsiteSource, error) {
	src := &domain.WebsiteSource{}
	query := `
		SELECT id, root_url, domain, title, max_pages, page_count, chunk_count, exclusions, scraped_at
		FROM website_sources WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&src.ID, &src.RootURL, &src.Domain, &src.Title, &src.MaxPages, &src.PageCount, &src.ChunkCount, pq.Array(&src.Exclusions), &src.ScrapedAt)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *PostgresStore) ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error) {
	query := `
		SELECT id, root_url, domain, title, max_pages, page_count, chunk_count, exclusions, scraped_at
		FROM website_sources ORDER BY scraped_at DESC, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.WebsiteSource
	for rows.Next() {
		var src domain.WebsiteSource
		if err := rows.Scan(&src.ID, &src.RootURL, &src.Domain, &src.Title, &src.MaxPages, &src.PageCount, &src.ChunkCount, pq.Array(&src.Exclusions), &src.ScrapedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) DeleteWebsiteSources(ctx context.Context) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `DELETE FROM documents WHERE origin = $1 RETURNING id`, domain.OriginWebsite)
	if err != nil {
		return nil, err
	}

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM website_sources`); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (domain.CorpusStats, error) {
	var stats domain.CorpusStats
	query := `SELECT COUNT(*), COALESCE(SUM(chunk_count), 0) FROM documents`
	err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalDocuments, &stats.TotalChunks)
	return stats, err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM website_sources`); err != nil {
		return err
	}
	return tx.Commit()
}
