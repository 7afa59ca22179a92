package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"
	"google.golang.org/api/googleapi"

	"sibyl/internal/domain"
	"sibyl/internal/retrieval"
)

// NoContextReply is the answer returned when retrieval finds nothing
// relevant. It is a designed fallback, not an error.
const NoContextReply = "I don't have any relevant information to answer your question. Please upload some documents first."

const systemPreamble = "You are a helpful assistant that answers questions based on the provided context. " +
	"Use only the information from the context to answer the question. " +
	"If the context doesn't contain enough information to answer the question, say so clearly. " +
	"Be concise but comprehensive."

const (
	defaultTokenBudget = 3000
	defaultTimeout     = 90 * time.Second
	defaultRetryDelay  = 500 * time.Millisecond
)

// Options narrows one answer call. A non-positive ContextLimit falls back to
// the configured top-K.
type Options struct {
	ContextLimit int
	Temperature  float32
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, opts *retrieval.Options) ([]domain.RetrievalResult, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

// Synthesizer grounds an LLM answer in retrieved chunks and attributes it
// back to the documents that supplied them.
type Synthesizer struct {
	retriever   Retriever
	generator   Generator
	codec       tokenizer.Codec
	tokenBudget int
	timeout     time.Duration
	retryDelay  time.Duration
}

func NewSynthesizer(r Retriever, g Generator, tokenBudget int, genTimeout time.Duration) (*Synthesizer, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	if genTimeout <= 0 {
		genTimeout = defaultTimeout
	}
	return &Synthesizer{
		retriever:   r,
		generator:   g,
		codec:       codec,
		tokenBudget: tokenBudget,
		timeout:     genTimeout,
		retryDelay:  defaultRetryDelay,
	}, nil
}

// Answer retrieves context for the question, prompts the LLM with it, and
// returns the reply with sources and a confidence score. Zero retrieved
// chunks yields the no-context reply with confidence 0 rather than an error.
func (s *Synthesizer) Answer(ctx context.Context, question string, opts Options) (domain.Answer, error) {
	var limit *int
	if opts.ContextLimit > 0 {
		limit = &opts.ContextLimit
	}

	results, err := s.retriever.Retrieve(ctx, question, &retrieval.Options{Limit: limit})
	if err != nil {
		return domain.Answer{}, err
	}

	if len(results) == 0 {
		return domain.Answer{
			Text:        NoContextReply,
			Sources:     []domain.SourceRef{},
			Confidence:  0,
			ContextUsed: 0,
		}, nil
	}

	contextBlock, used := s.buildContext(results)
	prompt := buildPrompt(contextBlock, question)

	text, err := s.generate(ctx, prompt, opts.Temperature)
	if err != nil {
		return domain.Answer{}, &domain.GenerationError{Err: err}
	}

	confidence := meanScore(used)
	sources := collectSources(used)

	slog.InfoContext(ctx, "answered question",
		"sources", len(sources),
		"context_used", len(used),
		"avg_relevance", confidence,
	)

	return domain.Answer{
		Text:        text,
		Sources:     sources,
		Confidence:  confidence,
		ContextUsed: len(used),
	}, nil
}

// generate runs the LLM call with a per-attempt timeout and one retry on
// transient provider status.
func (s *Synthesizer) generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	attempt := func() (string, error) {
		genCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.generator.Generate(genCtx, prompt, temperature)
	}

	text, err := attempt()
	if err != nil && transient(err) && ctx.Err() == nil {
		slog.WarnContext(ctx, "generation failed, retrying once", "error", err)
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		text, err = attempt()
	}
	return text, err
}

// transient reports whether a provider failure is worth one retry: 429 and
// 5xx statuses retry, everything else surfaces immediately.
func transient(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// buildContext renders retrieval results as tagged context blocks, cutting
// off at the token budget. The best chunk is always included, so a single
// oversized chunk cannot starve the prompt.
func (s *Synthesizer) buildContext(results []domain.RetrievalResult) (string, []domain.RetrievalResult) {
	blocks := make([]string, 0, len(results))
	used := make([]domain.RetrievalResult, 0, len(results))
	total := 0

	for _, r := range results {
		title := r.Document.Title
		if title == "" {
			title = r.Document.URI
		}
		block := fmt.Sprintf("[%d] %s (%s)\n%s", len(used)+1, title, r.Document.URI, r.Chunk.Text)

		cost := s.tokenCount(block)
		if len(used) > 0 && total+cost > s.tokenBudget {
			break
		}
		blocks = append(blocks, block)
		used = append(used, r)
		total += cost
	}

	return strings.Join(blocks, "\n\n"), used
}

func (s *Synthesizer) tokenCount(text string) int {
	ids, _, err := s.codec.Encode(text)
	if err != nil {
		// Chars over-count tokens, which only cuts the context earlier.
		return len(text)
	}
	return len(ids)
}

func buildPrompt(contextBlock, question string) string {
	return systemPreamble + "\n\n" +
		"Context:\n" + contextBlock + "\n\n" +
		"Question: " + question + "\n\n" +
		"Please provide a helpful answer based on the context above."
}

// meanScore averages the similarity of the chunks that made it into the
// prompt, clamped to [0,1].
func meanScore(used []domain.RetrievalResult) float64 {
	if len(used) == 0 {
		return 0
	}
	var sum float64
	for _, r := range used {
		sum += r.Score
	}
	mean := sum / float64(len(used))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

// collectSources deduplicates documents contributing an included chunk.
// Results arrive score-descending, so the first chunk seen for a document is
// its best and the output stays ordered by best chunk score.
func collectSources(used []domain.RetrievalResult) []domain.SourceRef {
	seen := make(map[string]bool, len(used))
	sources := make([]domain.SourceRef, 0, len(used))
	for _, r := range used {
		if seen[r.Document.ID] {
			continue
		}
		seen[r.Document.ID] = true
		sources = append(sources, domain.SourceRef{
			DocumentID: r.Document.ID,
			Title:      r.Document.Title,
			URI:        r.Document.URI,
			Score:      r.Score,
		})
	}
	return sources
}
