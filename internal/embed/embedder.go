package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// Provider turns texts into raw embedding vectors. Implementations do not
// normalize; the Embedder owns normalization so both providers produce
// comparable output.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Embedder is the façade in front of a provider: it bounds concurrency,
// retries transient failures, L2-normalizes every vector, and applies the
// instruction prefix to query embeddings.
type Embedder struct {
	provider    Provider
	sem         chan struct{}
	instruction string
}

// Options configures the façade.
type Options struct {
	MaxConcurrent    int
	QueryInstruction string
}

func New(p Provider, opts Options) *Embedder {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Embedder{
		provider:    p,
		sem:         make(chan struct{}, opts.MaxConcurrent),
		instruction: opts.QueryInstruction,
	}
}

// Dim reports the provider's output dimension.
func (e *Embedder) Dim() int {
	return e.provider.Dim()
}

// Documents embeds a batch of document texts.
func (e *Embedder) Documents(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts)
}

// Query embeds a search query with the configured instruction prefix.
func (e *Embedder) Query(ctx context.Context, query string) ([]float32, error) {
	text := query
	if e.instruction != "" {
		text = fmt.Sprintf("Instruct: %s\nQuery: %s", e.instruction, query)
	}
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var vecs [][]float32
	backoff := retry.WithMaxRetries(2, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := e.provider.Embed(ctx, texts)
		if err != nil {
			return retry.RetryableError(err)
		}
		vecs = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	dim := e.provider.Dim()
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		Normalize(v)
	}
	return vecs, nil
}

// Normalize scales v to unit L2 length in place. Zero vectors are left
// unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
