package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"financerag/internal/retry"
	"financerag/models"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

type staticSource struct {
	embedder  Embedder
	completer Completer
}

func (s staticSource) Embedder(context.Context, string) (Embedder, error)   { return s.embedder, nil }
func (s staticSource) Completer(context.Context, string) (Completer, error) { return s.completer, nil }

// recordingEmbedder tags each vector with the text length and fails the
// first failures calls with a transient error.
type recordingEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int
	batches  []int
	dim      int
}

func (r *recordingEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return nil, models.Transient("embed", errors.New("503"))
	}
	r.batches = append(r.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, r.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(128)
	vecs, err := h.Embed(context.Background(), "m1", []string{
		"revenue grew in the cloud segment",
		"cloud segment revenue grew",
		"the board approved a share buyback",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 128)
	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))

	again, err := h.Embed(context.Background(), "m1", []string{"revenue grew in the cloud segment"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])

	other, err := h.Embed(context.Background(), "m2", []string{"revenue grew in the cloud segment"})
	require.NoError(t, err)
	assert.NotEqual(t, vecs[0], other[0])
}

func TestBatcher_OrderAndBatches(t *testing.T) {
	rec := &recordingEmbedder{dim: 4}
	b := NewBatcher(staticSource{embedder: rec}, 3, 2, fastPolicy, nil)

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, err := b.Embed(context.Background(), ModelRef{Provider: ProviderHash, Model: "m"}, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 8)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
	assert.ElementsMatch(t, []int{3, 3, 2}, rec.batches)
}

func TestBatcher_RetriesTransient(t *testing.T) {
	rec := &recordingEmbedder{dim: 2, failures: 2}
	b := NewBatcher(staticSource{embedder: rec}, 10, 1, fastPolicy, nil)

	vecs, err := b.Embed(context.Background(), ModelRef{Provider: ProviderHash, Model: "m"}, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, rec.calls)
}

type raggedEmbedder struct{}

func (raggedEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, i+1)
	}
	return out, nil
}

func TestBatcher_DimensionMismatch(t *testing.T) {
	b := NewBatcher(staticSource{embedder: raggedEmbedder{}}, 10, 1, fastPolicy, nil)
	_, err := b.Embed(context.Background(), ModelRef{Provider: ProviderHash}, []string{"a", "b"})
	assert.ErrorContains(t, err, "dimension")
}

func TestParseModelRef(t *testing.T) {
	assert.Equal(t, ModelRef{Provider: "openai", Model: "text-embedding-3-small"}, ParseModelRef("openai:text-embedding-3-small"))
	assert.Equal(t, ModelRef{Provider: "google", Model: "text-embedding-004"}, ParseModelRef("text-embedding-004"))
	ref := ModelRef{Provider: "ollama", Model: "nomic-embed-text"}
	assert.Equal(t, ref, ParseModelRef(ref.String()))
}

func TestClassify(t *testing.T) {
	throttled := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	assert.True(t, models.IsTransient(classify("op", throttled)))

	bad := &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad model"}
	assert.False(t, models.IsTransient(classify("op", bad)))

	assert.True(t, models.IsTransient(classify("op", fmt.Errorf("wrapped: %w", context.DeadlineExceeded))))
	assert.False(t, models.IsTransient(classify("op", context.Canceled)))
	assert.NoError(t, classify("op", nil))
}

type failingCompleter struct {
	mu    sync.Mutex
	calls int
	err   error
	text  string
}

func (f *failingCompleter) Complete(context.Context, Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func TestGuarded_Success(t *testing.T) {
	c := &failingCompleter{text: "Revenue rose [1]."}
	g := NewGuarded(staticSource{completer: c}, GuardConfig{RequestsPerMinute: 6000, Policy: fastPolicy}, nil)

	out, err := g.Complete(context.Background(), Request{Provider: ProviderOpenAI, Model: "gpt-4o-mini", Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "Revenue rose [1].", out)
	assert.Equal(t, "closed", g.State())
}

func TestGuarded_BreakerOpensWithoutFallback(t *testing.T) {
	c := &failingCompleter{err: models.Transient("llm", errors.New("503"))}
	g := NewGuarded(staticSource{completer: c}, GuardConfig{RequestsPerMinute: 6000, Policy: fastPolicy}, nil)

	_, err := g.Complete(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, "open", g.State())

	calls := c.calls
	out, err := g.Complete(context.Background(), Request{Prompt: "q"})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Empty(t, out)
	assert.Equal(t, calls, c.calls)
}

func TestGuarded_PermanentErrorNotRetried(t *testing.T) {
	c := &failingCompleter{err: errors.New("invalid model")}
	g := NewGuarded(staticSource{completer: c}, GuardConfig{RequestsPerMinute: 6000, Policy: fastPolicy}, nil)

	_, err := g.Complete(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, "closed", g.State())
}
