package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ragd/internal/chunk"
	"ragd/internal/fetch"
	"ragd/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFrontier struct {
	mu        sync.Mutex
	replaced  map[string][]store.ChunkRecord
	contents  map[string]string
	added     []string
	replerr   error
	leases    [][]string
	leaseFunc func(n int) []store.Page
}

func newFakeFrontier() *fakeFrontier {
	return &fakeFrontier{
		replaced: make(map[string][]store.ChunkRecord),
		contents: make(map[string]string),
	}
}

func (f *fakeFrontier) LeaseBatch(_ context.Context, n int) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseFunc == nil {
		return nil, nil
	}
	pages := f.leaseFunc(n)
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	f.leases = append(f.leases, urls)
	return pages, nil
}

func (f *fakeFrontier) AddURLs(_ context.Context, urls []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, urls...)
	return int64(len(urls)), nil
}

func (f *fakeFrontier) ReplaceChunks(_ context.Context, pageURL, content string, records []store.ChunkRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replerr != nil {
		return f.replerr
	}
	f.replaced[pageURL] = records
	f.contents[pageURL] = content
	return nil
}

type fakeFetcher struct {
	html  string
	links []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*fetch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{URL: url, HTML: f.html, Status: 200, DiscoveredURLs: f.links, Duration: time.Millisecond}, nil
}

// passthroughExtractor returns the fetched body unchanged.
type passthroughExtractor struct{}

func (passthroughExtractor) Extract(_, html string) (string, error) {
	return html, nil
}

type fakeEmbedder struct {
	dim   int
	err   error
	calls atomic.Int64
}

func (e *fakeEmbedder) Documents(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func testProcessor(f *fakeFrontier, fe Fetcher, em Embedder) *Processor {
	return NewProcessor(f, fe, passthroughExtractor{}, em, discard(), ProcessorOptions{
		ChunkSize:     5000,
		MinChunkLen:   64,
		MinContentLen: 100,
	})
}

func TestProcessIngestsPage(t *testing.T) {
	body := strings.Repeat("Scenes hold view hierarchies. ", 20)
	frontier := newFakeFrontier()
	fetcher := &fakeFetcher{html: body, links: []string{
		"https://developer.example.com/documentation/swiftui/scene",
	}}
	p := testProcessor(frontier, fetcher, &fakeEmbedder{dim: 8})

	url := "https://developer.example.com/documentation/swiftui"
	if err := p.Process(context.Background(), url); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	records := frontier.replaced[url]
	if len(records) == 0 {
		t.Fatalf("no chunks persisted")
	}
	for i, r := range records {
		if r.Ordinal != i {
			t.Fatalf("ordinal gap at %d: got %d", i, r.Ordinal)
		}
		if len(r.Embedding) != 8 {
			t.Fatalf("chunk %d missing embedding", i)
		}
	}
	if frontier.contents[url] != body {
		t.Fatalf("page content not persisted")
	}
	if len(frontier.added) != 1 {
		t.Fatalf("discovered links not added: %v", frontier.added)
	}
}

func TestProcessShortExtractionIsBlocked(t *testing.T) {
	frontier := newFakeFrontier()
	p := testProcessor(frontier, &fakeFetcher{html: "tiny"}, &fakeEmbedder{dim: 8})

	err := p.Process(context.Background(), "https://developer.example.com/docs/x")
	if err == nil {
		t.Fatalf("expected error for near-empty extraction")
	}
	var fe *fetch.Error
	if !errors.As(err, &fe) || fe.Kind != fetch.KindBlocked {
		t.Fatalf("expected blocked classification, got %v", err)
	}
	if len(frontier.replaced) != 0 {
		t.Fatalf("near-empty page must not be persisted")
	}
}

func TestProcessFetchFailureLeavesPageUntouched(t *testing.T) {
	frontier := newFakeFrontier()
	fetcher := &fakeFetcher{err: &fetch.Error{Kind: fetch.KindTransient, URL: "u", Err: fmt.Errorf("timeout")}}
	p := testProcessor(frontier, fetcher, &fakeEmbedder{dim: 8})

	if err := p.Process(context.Background(), "https://developer.example.com/docs/x"); err == nil {
		t.Fatalf("expected fetch error to surface")
	}
	if len(frontier.replaced) != 0 || len(frontier.added) != 0 {
		t.Fatalf("failed fetch must not mutate the store")
	}
}

func TestProcessEmbedFailureAbandonsPipeline(t *testing.T) {
	body := strings.Repeat("Scenes hold view hierarchies. ", 20)
	frontier := newFakeFrontier()
	p := testProcessor(frontier, &fakeFetcher{html: body}, &fakeEmbedder{dim: 8, err: fmt.Errorf("model down")})

	if err := p.Process(context.Background(), "https://developer.example.com/docs/x"); err == nil {
		t.Fatalf("expected embed failure to surface")
	}
	if len(frontier.replaced) != 0 {
		t.Fatalf("no chunk mutation allowed after embed failure")
	}
}

func TestProcessDropsShortChunksAndReassignsOrdinals(t *testing.T) {
	// Paragraphs below the 64-char minimum interleaved with real content.
	long := strings.Repeat("x", 200)
	body := "tiny\n\n" + long + "\n\nalso tiny\n\n" + long + " tail that makes this body long enough to pass the guard"
	frontier := newFakeFrontier()
	p := NewProcessor(frontier, &fakeFetcher{html: body}, passthroughExtractor{}, &fakeEmbedder{dim: 4}, discard(), ProcessorOptions{
		ChunkSize:     64,
		MinChunkLen:   64,
		MinContentLen: 100,
	})

	url := "https://developer.example.com/docs/x"
	if err := p.Process(context.Background(), url); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	records := frontier.replaced[url]
	if len(records) == 0 {
		t.Fatalf("expected surviving chunks")
	}
	for i, r := range records {
		if r.Ordinal != i {
			t.Fatalf("ordinals not contiguous after drops: %v", records)
		}
		if len(r.Content) < 64 {
			t.Fatalf("short chunk survived: %q", r.Content)
		}
	}
}

func TestProcessContextualMode(t *testing.T) {
	body := "# Guide\n\n" + strings.Repeat("Scenes hold view hierarchies. ", 10)
	frontier := newFakeFrontier()
	p := NewProcessor(frontier, &fakeFetcher{html: body}, passthroughExtractor{}, &fakeEmbedder{dim: 4}, discard(), ProcessorOptions{
		ChunkSize:     5000,
		MinChunkLen:   64,
		MinContentLen: 100,
		Contextual:    true,
	})

	url := "https://developer.example.com/docs/x"
	if err := p.Process(context.Background(), url); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	records := frontier.replaced[url]
	if len(records) == 0 {
		t.Fatalf("expected chunks")
	}
	a, ok := chunk.DecodeAnnotated(records[0].Content)
	if !ok {
		t.Fatalf("contextual mode should store JSON-wrapped chunks, got %q", records[0].Content)
	}
	if a.Context != "Guide" {
		t.Fatalf("unexpected context %q", a.Context)
	}
}

func TestRunWavesProcessesAllAndBounds(t *testing.T) {
	body := strings.Repeat("Scenes hold view hierarchies. ", 20)
	frontier := newFakeFrontier()
	p := testProcessor(frontier, &fakeFetcher{html: body}, &fakeEmbedder{dim: 4})
	s := NewScheduler(frontier, p, discard(), SchedulerOptions{
		BatchSize:     30,
		MaxConcurrent: 30,
		WaveSize:      2,
		Interval:      10 * time.Millisecond,
	})

	urls := []string{
		"https://developer.example.com/docs/a",
		"https://developer.example.com/docs/b",
		"https://developer.example.com/docs/c",
		"https://developer.example.com/docs/d",
		"https://developer.example.com/docs/e",
	}
	s.runWaves(context.Background(), urls)

	if len(frontier.replaced) != len(urls) {
		t.Fatalf("processed %d of %d urls", len(frontier.replaced), len(urls))
	}
}

func TestSchedulerLeasesByCapacity(t *testing.T) {
	body := strings.Repeat("Scenes hold view hierarchies. ", 20)
	frontier := newFakeFrontier()

	var served atomic.Int64
	frontier.leaseFunc = func(n int) []store.Page {
		if served.Load() >= 1 {
			return nil
		}
		served.Add(1)
		if n > 30 {
			return nil
		}
		return []store.Page{{URL: "https://developer.example.com/docs/a", CrawlCount: 1}}
	}

	p := testProcessor(frontier, &fakeFetcher{html: body}, &fakeEmbedder{dim: 4})
	s := NewScheduler(frontier, p, discard(), SchedulerOptions{
		BatchSize:     30,
		MaxConcurrent: 30,
		WaveSize:      5,
		Interval:      5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run should exit with context error, got %v", err)
	}

	if len(frontier.leases) == 0 {
		t.Fatalf("scheduler never leased")
	}
	if len(frontier.replaced) != 1 {
		t.Fatalf("leased url not processed")
	}
}
