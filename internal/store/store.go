package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragd/internal/chunk"
)

// Store owns the pgx connection pool. The pages table doubles as the crawl
// frontier; chunks carry the embeddings and full-text index.
type Store struct {
	pool *pgxpool.Pool
}

// Page is one frontier row.
type Page struct {
	ID            uuid.UUID  `json:"id"`
	URL           string     `json:"url"`
	Content       string     `json:"content,omitempty"`
	CrawlCount    int        `json:"crawl_count"`
	LastCrawledAt *time.Time `json:"last_crawled_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ChunkRecord is the write-side shape for the replace-chunks transaction.
type ChunkRecord struct {
	Ordinal   int
	Content   string
	BreakType string
	CharStart int
	CharEnd   int
	Embedding []float32
}

// ChunkRow is the dashboard read shape.
type ChunkRow struct {
	ID        uuid.UUID `json:"id"`
	PageURL   string    `json:"page_url"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	BreakType string    `json:"break_type"`
	CharStart int       `json:"char_start"`
	CharEnd   int       `json:"char_end"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is one retrieval candidate with its per-channel score.
type Hit struct {
	ID          uuid.UUID
	PageURL     string
	Content     string
	VectorScore float64
	LexScore    float64
}

// Stats summarizes corpus progress for the dashboard.
type Stats struct {
	PagesCount           int64   `json:"pages_count"`
	ChunksCount          int64   `json:"chunks_count"`
	PagesWithContent     int64   `json:"pages_with_content"`
	ContentPercentage    float64 `json:"content_percentage"`
	PagesProcessed       int64   `json:"pages_processed"`
	ProcessingPercentage float64 `json:"processing_percentage"`
}

// New builds the connection pool. Connections are established lazily on
// first use.
func New(ctx context.Context, dsn string, minConns, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AssertSchema verifies that the vector column dimension matches the
// configured embedding dimension and that existing chunk rows agree with the
// configured contextual-chunk mode. Both mismatches are operator errors and
// fatal at startup.
func (s *Store) AssertSchema(ctx context.Context, dim int, contextual bool) error {
	var typmod int
	err := s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("inspect embedding column: %w", err)
	}
	if typmod != dim {
		return fmt.Errorf("embedding column has dimension %d but configuration says %d", typmod, dim)
	}

	var sample string
	err = s.pool.QueryRow(ctx, `SELECT content FROM chunks LIMIT 1`).Scan(&sample)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sample chunk content: %w", err)
	}

	_, isContextual := chunk.DecodeAnnotated(sample)
	if isContextual != contextual {
		return fmt.Errorf("existing chunks contextual=%t but configuration says %t; reingest or fix CHUNK_CONTEXT",
			isContextual, contextual)
	}
	return nil
}

// EnsureANNIndex creates the opt-in HNSW index. Exact scan is the default;
// pgvector caps indexable dimensions at 2000, and above that the exact scan
// is also the only lossless option, so the opt-in is refused.
func (s *Store) EnsureANNIndex(ctx context.Context, mode string, dim int) error {
	if mode != "hnsw" {
		return nil
	}
	if dim > 2000 {
		return fmt.Errorf("VECTOR_INDEX=hnsw refused: dimension %d exceeds the 2000-dim index limit, exact scan required", dim)
	}
	_, err := s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw
		ON chunks USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)`)
	if err != nil {
		return fmt.Errorf("create hnsw index: %w", err)
	}
	return nil
}

// AddURLs inserts discovered URLs into the frontier with crawl_count 0.
// Known URLs are left untouched. Returns the number of new rows.
func (s *Store) AddURLs(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pages (url)
		SELECT unnest($1::text[])
		ON CONFLICT (url) DO NOTHING`, urls)
	if err != nil {
		return 0, fmt.Errorf("insert urls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LeaseBatch selects up to n frontier rows by fairness order, increments
// their counters, and stamps last_crawled_at, all in one statement under
// FOR UPDATE SKIP LOCKED. Concurrent schedulers never lease the same row.
func (s *Store) LeaseBatch(ctx context.Context, n int) ([]Page, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE pages
		SET crawl_count = crawl_count + 1, last_crawled_at = now()
		WHERE url IN (
			SELECT url FROM pages
			ORDER BY crawl_count ASC, last_crawled_at ASC NULLS FIRST, url ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, url, crawl_count, last_crawled_at, processed_at, created_at, updated_at`, n)
	if err != nil {
		return nil, fmt.Errorf("lease batch: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.URL, &p.CrawlCount, &p.LastCrawledAt, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan leased page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ReplaceChunks atomically swaps a page's chunk set and marks the page
// processed. Any failure rolls back the whole transaction, preserving the
// prior chunks.
func (s *Store) ReplaceChunks(ctx context.Context, pageURL, content string, records []ChunkRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_url = $1`, pageURL); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", pageURL, err)
	}

	for _, r := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (page_url, ordinal, content, break_type, char_start, char_end, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7::vector)`,
			pageURL, r.Ordinal, r.Content, r.BreakType, r.CharStart, r.CharEnd, EncodeVector(r.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d for %s: %w", r.Ordinal, pageURL, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pages SET content = $2, processed_at = now(), updated_at = now()
		WHERE url = $1`, pageURL, content)
	if err != nil {
		return fmt.Errorf("update page %s: %w", pageURL, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %s not in frontier", pageURL)
	}

	return tx.Commit(ctx)
}

// Nearest runs an exact cosine-distance scan and returns the k closest
// chunks. VectorScore is 1 - distance.
func (s *Store) Nearest(ctx context.Context, queryVec []float32, k int) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, page_url, content, 1 - (embedding <=> $1::vector) AS score
		FROM chunks
		ORDER BY embedding <=> $1::vector ASC, id ASC
		LIMIT $2`, EncodeVector(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("nearest query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.PageURL, &h.Content, &h.VectorScore); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Keyword runs full-text retrieval over chunk content. LexScore is ts_rank
// normalized by document length (flag 32 maps into (0,1)).
func (s *Store) Keyword(ctx context.Context, query string, k int) ([]Hit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, page_url, content,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1), 32) AS score
		FROM chunks
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC, id ASC
		LIMIT $2`, query, k)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.PageURL, &h.Content, &h.LexScore); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// pageSortColumns whitelists dashboard sort keys.
var pageSortColumns = map[string]bool{
	"url":             true,
	"crawl_count":     true,
	"created_at":      true,
	"updated_at":      true,
	"last_crawled_at": true,
	"processed_at":    true,
}

// ListPages returns frontier rows for the dashboard, without page content.
func (s *Store) ListPages(ctx context.Context, sortBy, order, search string) ([]Page, error) {
	if !pageSortColumns[sortBy] {
		sortBy = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(order, "asc") {
		dir = "ASC"
	}

	q := fmt.Sprintf(`
		SELECT id, url, crawl_count, last_crawled_at, processed_at, created_at, updated_at
		FROM pages
		WHERE ($1 = '' OR url ILIKE '%%' || $1 || '%%')
		ORDER BY %s %s NULLS LAST, url ASC`, sortBy, dir)

	rows, err := s.pool.Query(ctx, q, search)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.URL, &p.CrawlCount, &p.LastCrawledAt, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListChunks returns one dashboard page of chunk rows plus the total match
// count for pagination.
func (s *Store) ListChunks(ctx context.Context, page, size int, search string) ([]ChunkRow, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}

	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM chunks
		WHERE ($1 = '' OR content ILIKE '%' || $1 || '%' OR page_url ILIKE '%' || $1 || '%')`,
		search).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count chunks: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, page_url, ordinal, content, break_type, char_start, char_end, created_at
		FROM chunks
		WHERE ($1 = '' OR content ILIKE '%' || $1 || '%' OR page_url ILIKE '%' || $1 || '%')
		ORDER BY page_url ASC, ordinal ASC
		LIMIT $2 OFFSET $3`, search, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.ID, &c.PageURL, &c.Ordinal, &c.Content, &c.BreakType, &c.CharStart, &c.CharEnd, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// GetStats aggregates corpus progress counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM pages),
			(SELECT count(*) FROM chunks),
			(SELECT count(*) FROM pages WHERE content <> ''),
			(SELECT count(*) FROM pages WHERE processed_at IS NOT NULL)`).
		Scan(&st.PagesCount, &st.ChunksCount, &st.PagesWithContent, &st.PagesProcessed)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}

	if st.PagesCount > 0 {
		st.ContentPercentage = round1(100 * float64(st.PagesWithContent) / float64(st.PagesCount))
		st.ProcessingPercentage = round1(100 * float64(st.PagesProcessed) / float64(st.PagesCount))
	}
	return &st, nil
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
