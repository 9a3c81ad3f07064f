package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"ragd/internal/chunk"
	"ragd/internal/metrics"
	"ragd/internal/rerank"
	"ragd/internal/store"
)

const (
	vectorWeight = 0.7
	lexWeight    = 0.3
)

// Searcher is the store surface the engine needs.
type Searcher interface {
	Nearest(ctx context.Context, queryVec []float32, k int) ([]store.Hit, error)
	Keyword(ctx context.Context, query string, k int) ([]store.Hit, error)
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Query(ctx context.Context, query string) ([]float32, error)
}

// Reranker scores candidates against the query.
type Reranker interface {
	Available() bool
	Rerank(ctx context.Context, query string, candidates []string) ([]rerank.Result, error)
}

// Result is one retrieval answer.
type Result struct {
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Response is the perform_rag_query payload.
type Response struct {
	Success          bool     `json:"success"`
	Query            string   `json:"query"`
	SearchMode       string   `json:"search_mode"`
	RerankingApplied bool     `json:"reranking_applied"`
	Results          []Result `json:"results"`
	Count            int      `json:"count"`
}

// Engine composes embedding, candidate retrieval, and optional reranking.
type Engine struct {
	searcher Searcher
	embedder QueryEmbedder
	reranker Reranker

	hybrid     bool
	useRerank  bool
	oversample int
	log        *slog.Logger
}

// Options mirrors the search configuration.
type Options struct {
	Hybrid     bool
	UseRerank  bool
	Oversample int
	Logger     *slog.Logger
}

func New(searcher Searcher, embedder QueryEmbedder, reranker Reranker, opts Options) *Engine {
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		searcher:   searcher,
		embedder:   embedder,
		reranker:   reranker,
		hybrid:     opts.Hybrid,
		useRerank:  opts.UseRerank,
		oversample: opts.Oversample,
		log:        opts.Logger,
	}
}

// Query answers one retrieval call. The ordering is deterministic for a
// fixed store: final score descending, ties by chunk id ascending.
func (e *Engine) Query(ctx context.Context, text string, k int) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty query")
	}
	if k <= 0 {
		k = 5
	}

	vec, err := e.embedder.Query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rerankWanted := e.useRerank && e.reranker != nil && e.reranker.Available()
	limit := k
	if rerankWanted {
		limit = k * e.oversample
	}

	mode := "vector"
	var candidates []store.Hit
	if e.hybrid {
		mode = "hybrid"
		candidates, err = e.hybridCandidates(ctx, vec, text, limit)
	} else {
		candidates, err = e.searcher.Nearest(ctx, vec, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", mode, err)
	}

	applied := false
	if rerankWanted && len(candidates) > 0 {
		reranked, rerr := e.reranker.Rerank(ctx, text, candidateTexts(candidates))
		if rerr != nil {
			e.log.Warn("rerank failed, keeping similarity order", "error", rerr)
		} else {
			candidates = applyRerank(candidates, reranked)
			applied = true
		}
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{
			URL:        c.PageURL,
			Content:    displayContent(c.Content),
			Similarity: c.VectorScore,
		}
	}

	metrics.RecordQuery(mode, applied)
	return &Response{
		Success:          true,
		Query:            text,
		SearchMode:       mode,
		RerankingApplied: applied,
		Results:          results,
		Count:            len(results),
	}, nil
}

// hybridCandidates unions the dense and lexical channels, de-duplicated by
// chunk id, re-scored as 0.7·vector + 0.3·lexical. Lexical rank scores are
// normalized by the channel maximum; a candidate missing from a channel
// contributes zero there.
func (e *Engine) hybridCandidates(ctx context.Context, vec []float32, text string, limit int) ([]store.Hit, error) {
	dense, err := e.searcher.Nearest(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	lexical, err := e.searcher.Keyword(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	return Fuse(dense, lexical, limit), nil
}

// Fuse merges the two channels. Exported for direct testing.
func Fuse(dense, lexical []store.Hit, limit int) []store.Hit {
	maxLex := 0.0
	for _, h := range lexical {
		if h.LexScore > maxLex {
			maxLex = h.LexScore
		}
	}

	merged := make(map[string]store.Hit, len(dense)+len(lexical))
	for _, h := range dense {
		merged[h.ID.String()] = h
	}
	for _, h := range lexical {
		if maxLex > 0 {
			h.LexScore /= maxLex
		}
		if prev, ok := merged[h.ID.String()]; ok {
			prev.LexScore = h.LexScore
			merged[h.ID.String()] = prev
			continue
		}
		merged[h.ID.String()] = h
	}

	out := make([]store.Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		si := fusedScore(out[i])
		sj := fusedScore(out[j])
		if si != sj {
			return si > sj
		}
		if out[i].VectorScore != out[j].VectorScore {
			return out[i].VectorScore > out[j].VectorScore
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fusedScore(h store.Hit) float64 {
	return vectorWeight*h.VectorScore + lexWeight*h.LexScore
}

func candidateTexts(hits []store.Hit) []string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = displayContent(h.Content)
	}
	return texts
}

// applyRerank reorders candidates by reranker score and replaces the
// similarity used for ordering. Ties keep the reranker's stable order.
func applyRerank(candidates []store.Hit, results []rerank.Result) []store.Hit {
	out := make([]store.Hit, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		h := candidates[r.Index]
		h.VectorScore = r.Score
		out = append(out, h)
	}
	return out
}

// displayContent unwraps contextual chunks so callers always see plain
// markdown.
func displayContent(content string) string {
	if a, ok := chunk.DecodeAnnotated(content); ok {
		return a.Content
	}
	return content
}
