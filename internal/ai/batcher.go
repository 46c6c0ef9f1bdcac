package ai

import (
	"context"
	"fmt"

	"financerag/internal/retry"
	"financerag/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// EmbedderSource resolves a provider name to its embedder.
type EmbedderSource interface {
	Embedder(ctx context.Context, provider string) (Embedder, error)
}

// Batcher splits large inputs into provider-sized batches, embeds them
// concurrently under the retry policy and checks the shape of the result.
type Batcher struct {
	source      EmbedderSource
	batchSize   int
	concurrency int
	policy      retry.Policy
	metrics     *telemetry.Metrics
}

func NewBatcher(source EmbedderSource, batchSize, concurrency int, policy retry.Policy, metrics *telemetry.Metrics) *Batcher {
	if batchSize <= 0 {
		batchSize = 64
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Batcher{
		source:      source,
		batchSize:   batchSize,
		concurrency: concurrency,
		policy:      policy,
		metrics:     metrics,
	}
}

// Embed returns one vector per text, in order, all of the same dimension.
func (b *Batcher) Embed(ctx context.Context, ref ModelRef, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := telemetry.StartSpan(ctx, "embedding.embed",
		attribute.String("embedding.model", ref.String()),
		attribute.Int("embedding.texts", len(texts)),
	)
	defer span.End()

	embedder, err := b.source.Embedder(ctx, ref.Provider)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := retry.Do(gctx, b.policy, "embed", func(ctx context.Context) ([][]float32, error) {
				return embedder.Embed(ctx, ref.Model, texts[start:end])
			})
			if err != nil {
				return fmt.Errorf("embed batch [%d,%d): %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch [%d,%d): got %d vectors", start, end, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) == 0 || len(v) != dim {
			err := fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
			telemetry.RecordSpanError(span, err)
			return nil, err
		}
	}
	b.metrics.RecordChunksEmbedded(len(out), ref.String())
	span.SetAttributes(attribute.Int("embedding.dimension", dim))
	return out, nil
}
