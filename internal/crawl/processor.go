package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ragd/internal/chunk"
	"ragd/internal/fetch"
	"ragd/internal/metrics"
	"ragd/internal/store"
)

// Frontier is the store surface the crawler needs.
type Frontier interface {
	LeaseBatch(ctx context.Context, n int) ([]store.Page, error)
	AddURLs(ctx context.Context, urls []string) (int64, error)
	ReplaceChunks(ctx context.Context, pageURL, content string, records []store.ChunkRecord) error
}

// Fetcher loads one URL in a rendering browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Extractor converts fetched HTML into filtered markdown.
type Extractor interface {
	Extract(pageURL, html string) (string, error)
}

// Embedder produces document embeddings.
type Embedder interface {
	Documents(ctx context.Context, texts []string) ([][]float32, error)
}

// Processor drives the per-URL ingestion pipeline: fetch, extract, chunk,
// embed, persist, expand the frontier.
type Processor struct {
	frontier  Frontier
	fetcher   Fetcher
	extractor Extractor
	embedder  Embedder
	log       *slog.Logger

	chunkSize     int
	minChunkLen   int
	minContentLen int
	contextual    bool
}

// ProcessorOptions carries the chunking knobs.
type ProcessorOptions struct {
	ChunkSize     int
	MinChunkLen   int
	MinContentLen int
	Contextual    bool
}

func NewProcessor(frontier Frontier, fetcher Fetcher, extractor Extractor, embedder Embedder, log *slog.Logger, opts ProcessorOptions) *Processor {
	return &Processor{
		frontier:      frontier,
		fetcher:       fetcher,
		extractor:     extractor,
		embedder:      embedder,
		log:           log,
		chunkSize:     opts.ChunkSize,
		minChunkLen:   opts.MinChunkLen,
		minContentLen: opts.MinContentLen,
		contextual:    opts.Contextual,
	}
}

// Process runs the pipeline for one leased URL. Failures before the store
// write leave the page row unchanged apart from the lease counter; the
// replace-chunks write itself is atomic.
func (p *Processor) Process(ctx context.Context, pageURL string) error {
	res, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		metrics.RecordCrawl(outcomeFor(err))
		return fmt.Errorf("fetch: %w", err)
	}

	markdown, err := p.extractor.Extract(pageURL, res.HTML)
	if err != nil {
		metrics.RecordCrawl("permanent")
		return fmt.Errorf("extract: %w", err)
	}

	// A near-empty extraction means the page did not really render; treat
	// it like a challenge page and let the counter ordering retry it later.
	if len(markdown) < p.minContentLen {
		metrics.RecordCrawl("blocked")
		return &fetch.Error{Kind: fetch.KindBlocked, URL: pageURL,
			Err: fmt.Errorf("extraction yielded %d chars", len(markdown))}
	}

	records, dropped, err := p.buildRecords(ctx, markdown)
	if err != nil {
		metrics.RecordCrawl("transient")
		return err
	}
	if len(records) == 0 {
		metrics.RecordCrawl("skipped")
		return fmt.Errorf("no chunks above minimum length for %s", pageURL)
	}

	if err := p.frontier.ReplaceChunks(ctx, pageURL, markdown, records); err != nil {
		metrics.RecordCrawl("transient")
		return fmt.Errorf("persist: %w", err)
	}

	added, err := p.frontier.AddURLs(ctx, res.DiscoveredURLs)
	if err != nil {
		// Chunks are already committed; discovery loss is recoverable on
		// the next crawl of this page.
		p.log.Warn("frontier expansion failed", "url", pageURL, "error", err)
	}

	metrics.RecordCrawl("success")
	metrics.RecordIngest(len(records), dropped, len(res.HTML), len(markdown))
	p.log.Info("page ingested",
		"url", pageURL,
		"chunks", len(records),
		"dropped", dropped,
		"discovered", len(res.DiscoveredURLs),
		"new_urls", added,
		"fetch_ms", res.Duration.Milliseconds(),
	)
	return nil
}

// buildRecords chunks the markdown, drops fragments below the minimum
// length, reassigns contiguous ordinals, and embeds the survivors in one
// batch.
func (p *Processor) buildRecords(ctx context.Context, markdown string) ([]store.ChunkRecord, int, error) {
	chunks := chunk.Split(markdown, p.chunkSize)

	kept := chunks[:0:0]
	dropped := 0
	for _, c := range chunks {
		if len(c.Content) < p.minChunkLen {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, dropped, nil
	}

	stored := make([]string, len(kept))
	texts := make([]string, len(kept))
	if p.contextual {
		annotated := chunk.Contextualize(markdown, kept)
		for i, a := range annotated {
			enc, err := a.Encode()
			if err != nil {
				return nil, dropped, fmt.Errorf("encode contextual chunk %d: %w", i, err)
			}
			stored[i] = enc
			texts[i] = a.EmbedText()
		}
	} else {
		for i, c := range kept {
			stored[i] = c.Content
			texts[i] = c.Content
		}
	}

	vecs, err := p.embedder.Documents(ctx, texts)
	if err != nil {
		return nil, dropped, fmt.Errorf("embed: %w", err)
	}

	records := make([]store.ChunkRecord, len(kept))
	for i, c := range kept {
		records[i] = store.ChunkRecord{
			Ordinal:   i,
			Content:   stored[i],
			BreakType: string(c.BreakType),
			CharStart: c.Start,
			CharEnd:   c.End,
			Embedding: vecs[i],
		}
	}
	return records, dropped, nil
}

func outcomeFor(err error) string {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "transient"
}
