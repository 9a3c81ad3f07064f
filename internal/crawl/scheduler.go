package crawl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ragd/internal/store"
)

// Scheduler ticks the frontier: each tick leases a fairness-ordered batch
// and hands it to the processor in bounded waves. The database rows are the
// only shared state; the lease counter advances in the same statement as
// the selection, so a crashed worker costs nothing but one counter tick.
type Scheduler struct {
	frontier  Frontier
	processor *Processor
	log       *slog.Logger

	batchSize     int
	maxConcurrent int
	waveSize      int
	interval      time.Duration

	sem chan struct{}
}

// SchedulerOptions mirrors the crawler configuration.
type SchedulerOptions struct {
	BatchSize     int
	MaxConcurrent int
	WaveSize      int
	Interval      time.Duration
}

func NewScheduler(frontier Frontier, processor *Processor, log *slog.Logger, opts SchedulerOptions) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 30
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 30
	}
	if opts.WaveSize <= 0 {
		opts.WaveSize = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	return &Scheduler{
		frontier:      frontier,
		processor:     processor,
		log:           log,
		batchSize:     opts.BatchSize,
		maxConcurrent: opts.MaxConcurrent,
		waveSize:      opts.WaveSize,
		interval:      opts.Interval,
		sem:           make(chan struct{}, opts.MaxConcurrent),
	}
}

// Run loops until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		capacity := s.maxConcurrent - len(s.sem)
		if capacity <= 0 {
			continue
		}
		if capacity > s.batchSize {
			capacity = s.batchSize
		}

		pages, err := s.frontier.LeaseBatch(ctx, capacity)
		if err != nil {
			s.log.Error("frontier lease failed", "error", err)
			continue
		}
		if len(pages) == 0 {
			continue
		}

		s.runWaves(ctx, pagesToURLs(pages))
	}
}

// runWaves processes the leased URLs in waves of waveSize, blocking on each
// wave so per-process memory stays bounded.
func (s *Scheduler) runWaves(ctx context.Context, urls []string) {
	for start := 0; start < len(urls); start += s.waveSize {
		end := start + s.waveSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for _, u := range urls[start:end] {
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return
			}

			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				defer func() { <-s.sem }()

				if err := s.processor.Process(ctx, u); err != nil {
					s.log.Warn("page skipped this cycle", "url", u, "error", err)
				}
			}(u)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func pagesToURLs(pages []store.Page) []string {
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	return urls
}
