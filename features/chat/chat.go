package chat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sibyl/internal/answer"
	"sibyl/internal/domain"
	"sibyl/internal/extract"
)

// Synthesizer produces a grounded answer for one question.
type Synthesizer interface {
	Answer(ctx context.Context, question string, opts answer.Options) (domain.Answer, error)
}

// Uploads resolves an upload id to the stored file's path.
type Uploads interface {
	Resolve(uploadID string) (string, error)
}

// Ingestor chunks, embeds and commits one extracted document.
type Ingestor interface {
	IngestUpload(ctx context.Context, uploadID, filename, content string) (int, error)
}

// Corpus is the slice of the corpus manager this feature touches.
type Corpus interface {
	Stats(ctx context.Context) (domain.CorpusStats, error)
	ClearAll(ctx context.Context) error
}

type Service struct {
	synth    Synthesizer
	uploads  Uploads
	pipeline Ingestor
	corpus   Corpus
}

func NewService(synth Synthesizer, uploads Uploads, pipeline Ingestor, corpus Corpus) *Service {
	return &Service{synth: synth, uploads: uploads, pipeline: pipeline, corpus: corpus}
}

// Message answers one user question against the ingested corpus.
func (s *Service) Message(ctx context.Context, message string, contextLimit int, temperature float32) (domain.Answer, error) {
	if strings.TrimSpace(message) == "" {
		return domain.Answer{}, domain.Validationf("message", "must not be empty")
	}
	return s.synth.Answer(ctx, message, answer.Options{
		ContextLimit: contextLimit,
		Temperature:  temperature,
	})
}

// AddDocument extracts a stored upload and commits its chunks. Returns the
// number of chunks added; a re-added upload replaces its earlier chunks.
func (s *Service) AddDocument(ctx context.Context, uploadID string) (int, error) {
	path, err := s.uploads.Resolve(uploadID)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path) // #nosec G304 -- Resolve confines the path to the upload root
	if err != nil {
		return 0, &domain.ExtractionError{Source: uploadID, Err: err}
	}
	defer f.Close()

	filename := filepath.Base(path)
	content, err := extract.ExtractFile(filename, f)
	if err != nil {
		return 0, err
	}

	added, err := s.pipeline.IngestUpload(ctx, uploadID, filename, content)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "document added", "upload_id", uploadID, "chunks", added)
	return added, nil
}

func (s *Service) Stats(ctx context.Context) (domain.CorpusStats, error) {
	return s.corpus.Stats(ctx)
}

// Clear removes every document and chunk, uploads and websites alike.
func (s *Service) Clear(ctx context.Context) error {
	return s.corpus.ClearAll(ctx)
}
