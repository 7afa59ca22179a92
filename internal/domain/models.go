package domain

import "time"

// Origin values for ingested documents.
const (
	OriginUpload  = "upload"
	OriginWebsite = "website"
)

// Document is one ingested unit: an uploaded file or a single crawled page.
// Created on successful extraction, removed only by a corpus clear. The only
// field that changes after creation is ChunkCount, when the same document is
// re-ingested.
type Document struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin"`
	SourceURI  string    `json:"source_uri"`
	Title      string    `json:"title"`
	WebsiteID  string    `json:"website_id,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk is a bounded text segment derived from one document. Start and End
// are rune offsets into the cleaned parent text; adjacent chunks of a
// document share the configured overlap.
type Chunk struct {
	ID         string
	DocumentID string
	Seq        int
	Text       string
	Start      int
	End        int
	Vector     []float32
}

// WebsiteSource is a crawl root and its aggregate counters. Re-crawling the
// same root replaces its pages in place.
type WebsiteSource struct {
	ID         string    `json:"id"`
	RootURL    string    `json:"url"`
	Domain     string    `json:"domain"`
	Title      string    `json:"title"`
	MaxPages   int       `json:"max_pages"`
	PageCount  int       `json:"pages"`
	ChunkCount int       `json:"chunks"`
	Exclusions []string  `json:"exclude_patterns,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// DocumentRef is the slice of document identity carried through retrieval.
type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// RetrievalResult pairs a chunk with its similarity score and parent
// document. Ephemeral, never persisted.
type RetrievalResult struct {
	Chunk    Chunk
	Score    float64
	Document DocumentRef
}

// SourceRef attributes an answer back to one contributing document. Score is
// the best similarity among the document's chunks that were used.
type SourceRef struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	URI        string  `json:"uri"`
	Score      float64 `json:"relevance_score"`
}

// Answer is a synthesized reply with attribution. Sources are deduplicated
// per document and ordered by Score descending.
type Answer struct {
	Text        string
	Sources     []SourceRef
	Confidence  float64
	ContextUsed int
}

// CorpusStats is computed on demand from the corpus store.
type CorpusStats struct {
	TotalDocuments int `json:"total_documents"`
	TotalChunks    int `json:"total_chunks"`
}
