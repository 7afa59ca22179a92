package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"sibyl/internal/domain"
	"sibyl/internal/retrieval"
)

type stubRetriever struct {
	results []domain.RetrievalResult
	err     error
	gotOpts *retrieval.Options
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, opts *retrieval.Options) ([]domain.RetrievalResult, error) {
	s.gotOpts = opts
	return s.results, s.err
}

type stubGenerator struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
	temps   []float32
}

func (g *stubGenerator) Generate(_ context.Context, prompt string, temperature float32) (string, error) {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.temps = append(g.temps, temperature)
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	var reply string
	if i < len(g.replies) {
		reply = g.replies[i]
	}
	return reply, err
}

func result(chunkID, docID, title, uri, text string, score float64) domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk:    domain.Chunk{ID: chunkID, DocumentID: docID, Text: text},
		Score:    score,
		Document: domain.DocumentRef{ID: docID, Title: title, URI: uri},
	}
}

func newTestSynthesizer(t *testing.T, r Retriever, g Generator, budget int) *Synthesizer {
	t.Helper()
	s, err := NewSynthesizer(r, g, budget, time.Second)
	require.NoError(t, err)
	s.retryDelay = time.Millisecond
	return s
}

func TestSynthesizer_Answer_NoContext(t *testing.T) {
	ret := &stubRetriever{results: []domain.RetrievalResult{}}
	gen := &stubGenerator{}
	s := newTestSynthesizer(t, ret, gen, 0)

	ans, err := s.Answer(context.Background(), "anything indexed?", Options{})
	require.NoError(t, err)

	assert.Equal(t, NoContextReply, ans.Text)
	assert.NotNil(t, ans.Sources)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, ans.Confidence)
	assert.Zero(t, ans.ContextUsed)
	assert.Zero(t, gen.calls, "no context means no LLM call")
}

func TestSynthesizer_Answer_GroundedPrompt(t *testing.T) {
	ret := &stubRetriever{results: []domain.RetrievalResult{
		result("c1", "d1", "Guide", "https://example.com/guide", "Go uses goroutines.", 0.9),
		result("c2", "d2", "FAQ", "https://example.com/faq", "Channels carry values.", 0.7),
	}}
	gen := &stubGenerator{replies: []string{"Goroutines and channels."}}
	s := newTestSynthesizer(t, ret, gen, 0)

	ans, err := s.Answer(context.Background(), "how does Go do concurrency?", Options{ContextLimit: 5, Temperature: 0.4})
	require.NoError(t, err)

	assert.Equal(t, "Goroutines and channels.", ans.Text)
	assert.Equal(t, 2, ans.ContextUsed)
	assert.InDelta(t, 0.8, ans.Confidence, 1e-9)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "You are a helpful assistant"))
	assert.Contains(t, prompt, "Context:\n[1] Guide (https://example.com/guide)\nGo uses goroutines.")
	assert.Contains(t, prompt, "[2] FAQ (https://example.com/faq)\nChannels carry values.")
	assert.Contains(t, prompt, "Question: how does Go do concurrency?")
	assert.True(t, strings.HasSuffix(prompt, "Please provide a helpful answer based on the context above."))

	require.Len(t, gen.temps, 1)
	assert.InDelta(t, 0.4, gen.temps[0], 1e-6)

	require.NotNil(t, ret.gotOpts)
	require.NotNil(t, ret.gotOpts.Limit)
	assert.Equal(t, 5, *ret.gotOpts.Limit)
}

func TestSynthesizer_Answer_DefaultLimit(t *testing.T) {
	ret := &stubRetriever{results: []domain.RetrievalResult{
		result("c1", "d1", "Guide", "guide.txt", "text", 0.5),
	}}
	gen := &stubGenerator{replies: []string{"ok"}}
	s := newTestSynthesizer(t, ret, gen, 0)

	_, err := s.Answer(context.Background(), "q", Options{})
	require.NoError(t, err)

	// Unset limit defers to the configured top-K.
	require.NotNil(t, ret.gotOpts)
	assert.Nil(t, ret.gotOpts.Limit)
}

func TestSynthesizer_Answer_SourceDedup(t *testing.T) {
	ret := &stubRetriever{results: []domain.RetrievalResult{
		result("c1", "d1", "Guide", "https://example.com/guide", "alpha", 0.9),
		result("c2", "d2", "FAQ", "https://example.com/faq", "beta", 0.8),
		result("c3", "d1", "Guide", "https://example.com/guide", "gamma", 0.7),
	}}
	gen := &stubGenerator{replies: []string{"ok"}}
	s := newTestSynthesizer(t, ret, gen, 0)

	ans, err := s.Answer(context.Background(), "q", Options{})
	require.NoError(t, err)

	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "d1", ans.Sources[0].DocumentID)
	assert.InDelta(t, 0.9, ans.Sources[0].Score, 1e-9, "source carries its best chunk score")
	assert.Equal(t, "d2", ans.Sources[1].DocumentID)
	assert.Equal(t, 3, ans.ContextUsed)
}

func TestSynthesizer_Answer_TokenBudget(t *testing.T) {
	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 20)
	ret := &stubRetriever{results: []domain.RetrievalResult{
		result("c1", "d1", "A", "a.txt", long, 0.9),
		result("c2", "d2", "B", "b.txt", long, 0.8),
	}}
	gen := &stubGenerator{replies: []string{"ok"}}

	s := newTestSynthesizer(t, ret, gen, 50)
	ans, err := s.Answer(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, ans.ContextUsed, "first chunk is kept even over budget, second is cut")
	assert.InDelta(t, 0.9, ans.Confidence, 1e-9, "confidence covers only the included chunk")
	require.Len(t, ans.Sources, 1)

	ret2 := &stubRetriever{results: ret.results}
	gen2 := &stubGenerator{replies: []string{"ok"}}
	s2 := newTestSynthesizer(t, ret2, gen2, 100000)
	ans2, err := s2.Answer(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, ans2.ContextUsed)
}

func TestSynthesizer_Answer_RetryOnTransient(t *testing.T) {
	ret := &stubRetriever{results: []domain.RetrievalResult{
		result("c1", "d1", "Guide", "g.txt", "text", 0.9),
	}}
	gen := &stubGenerator{
		errs:    []error{&googleapi.Error{Code: 503, Message: "overloaded"}, nil},
		replies: []string{"", "Recovered."},
	}
	s := newTestSynthesizer(t, ret, gen, 0)

	ans, err := s.Answer(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", ans.Text)
	assert.Equal(t, 2, gen.calls)
}

func TestSynthesizer_Answer_GenerationError(t *testing.T) {
	t.Run("Transient Twice", func(t *testing.T) {
		ret := &stubRetriever{results: []domain.RetrievalResult{
			result("c1", "d1", "Guide", "g.txt", "text", 0.9),
		}}
		gen := &stubGenerator{errs: []error{
			&googleapi.Error{Code: 429, Message: "quota"},
			&googleapi.Error{Code: 429, Message: "quota"},
		}}
		s := newTestSynthesizer(t, ret, gen, 0)

		_, err := s.Answer(context.Background(), "q", Options{})
		require.Error(t, err)

		var genErr *domain.GenerationError
		assert.ErrorAs(t, err, &genErr)
		assert.Equal(t, 2, gen.calls, "retries exactly once")
	})

	t.Run("Non Transient Fails Fast", func(t *testing.T) {
		ret := &stubRetriever{results: []domain.RetrievalResult{
			result("c1", "d1", "Guide", "g.txt", "text", 0.9),
		}}
		gen := &stubGenerator{errs: []error{errors.New("api key not configured")}}
		s := newTestSynthesizer(t, ret, gen, 0)

		_, err := s.Answer(context.Background(), "q", Options{})
		require.Error(t, err)

		var genErr *domain.GenerationError
		assert.ErrorAs(t, err, &genErr)
		assert.Equal(t, 1, gen.calls)
	})
}

func TestSynthesizer_Answer_RetrieverErrorPassthrough(t *testing.T) {
	ret := &stubRetriever{err: domain.Validationf("query", "must not be empty")}
	gen := &stubGenerator{}
	s := newTestSynthesizer(t, ret, gen, 0)

	_, err := s.Answer(context.Background(), "", Options{})
	assert.True(t, domain.IsValidation(err))
	assert.Zero(t, gen.calls)
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(&googleapi.Error{Code: 429}))
	assert.True(t, transient(&googleapi.Error{Code: 500}))
	assert.True(t, transient(&googleapi.Error{Code: 503}))
	assert.False(t, transient(&googleapi.Error{Code: 400}))
	assert.False(t, transient(&googleapi.Error{Code: 404}))
	assert.False(t, transient(errors.New("plain failure")))
}

func TestMeanScore(t *testing.T) {
	assert.Zero(t, meanScore(nil))

	scores := []domain.RetrievalResult{{Score: 0.8}, {Score: 0.6}}
	assert.InDelta(t, 0.7, meanScore(scores), 1e-9)

	// Scores outside [0,1] clamp instead of leaking through.
	assert.Equal(t, 1.0, meanScore([]domain.RetrievalResult{{Score: 1.5}}))
	assert.Equal(t, 0.0, meanScore([]domain.RetrievalResult{{Score: -0.3}}))
}

func TestBuildContext_TitleFallsBackToURI(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestSynthesizer(t, &stubRetriever{}, gen, 0)

	block, used := s.buildContext([]domain.RetrievalResult{
		result("c1", "d1", "", "notes.txt", "content here", 0.5),
	})
	require.Len(t, used, 1)
	assert.True(t, strings.HasPrefix(block, "[1] notes.txt (notes.txt)\n"))
}
