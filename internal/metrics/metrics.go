package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the crawler and query path.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	crawlOutcomes = make(map[string]int64)

	pagesProcessed     int64
	chunksEmbedded     int64
	chunksDropped      int64
	extractHTMLBytes   int64
	extractOutputBytes int64

	queriesTotal = make(map[queryKey]int64)
	queryHits    int64
	queryMisses  int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type queryKey struct {
	Mode     string
	Reranked string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordCrawl increments the per-outcome crawl counter. Outcome is one of
// success, transient, permanent, blocked, skipped.
func RecordCrawl(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	crawlOutcomes[outcome]++
}

// RecordIngest records a completed page ingestion: chunks written, chunks
// dropped below the minimum length, and the extraction size ratio inputs.
func RecordIngest(embedded, dropped int, htmlBytes, markdownBytes int) {
	mu.Lock()
	defer mu.Unlock()

	pagesProcessed++
	chunksEmbedded += int64(embedded)
	chunksDropped += int64(dropped)
	extractHTMLBytes += int64(htmlBytes)
	extractOutputBytes += int64(markdownBytes)
}

// RecordQuery counts a retrieval query by mode (vector or hybrid) and
// whether reranking was applied to the response.
func RecordQuery(mode string, reranked bool) {
	mu.Lock()
	defer mu.Unlock()

	r := "false"
	if reranked {
		r = "true"
	}
	queriesTotal[queryKey{Mode: mode, Reranked: r}]++
}

// RecordQueryCache counts a response-cache lookup.
func RecordQueryCache(hit bool) {
	mu.Lock()
	defer mu.Unlock()
	if hit {
		queryHits++
	} else {
		queryMisses++
	}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP ragd_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE ragd_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "ragd_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP ragd_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE ragd_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP ragd_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE ragd_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "ragd_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "ragd_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Crawl metrics
	b.WriteString("# HELP ragd_crawl_fetches_total Total fetch attempts by outcome\n")
	b.WriteString("# TYPE ragd_crawl_fetches_total counter\n")

	var outcomes []string
	for o := range crawlOutcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "ragd_crawl_fetches_total{outcome=\"%s\"} %d\n", o, crawlOutcomes[o])
	}

	b.WriteString("# HELP ragd_pages_processed_total Total pages fully ingested\n")
	b.WriteString("# TYPE ragd_pages_processed_total counter\n")
	fmt.Fprintf(&b, "ragd_pages_processed_total %d\n", pagesProcessed)

	b.WriteString("# HELP ragd_chunks_embedded_total Total chunks embedded and persisted\n")
	b.WriteString("# TYPE ragd_chunks_embedded_total counter\n")
	fmt.Fprintf(&b, "ragd_chunks_embedded_total %d\n", chunksEmbedded)

	b.WriteString("# HELP ragd_chunks_dropped_total Total chunks dropped below the minimum length\n")
	b.WriteString("# TYPE ragd_chunks_dropped_total counter\n")
	fmt.Fprintf(&b, "ragd_chunks_dropped_total %d\n", chunksDropped)

	b.WriteString("# HELP ragd_extract_html_bytes_total Total HTML bytes seen by the extractor\n")
	b.WriteString("# TYPE ragd_extract_html_bytes_total counter\n")
	fmt.Fprintf(&b, "ragd_extract_html_bytes_total %d\n", extractHTMLBytes)

	b.WriteString("# HELP ragd_extract_markdown_bytes_total Total markdown bytes produced by the extractor\n")
	b.WriteString("# TYPE ragd_extract_markdown_bytes_total counter\n")
	fmt.Fprintf(&b, "ragd_extract_markdown_bytes_total %d\n", extractOutputBytes)

	// Query metrics
	b.WriteString("# HELP ragd_queries_total Total retrieval queries by mode and rerank status\n")
	b.WriteString("# TYPE ragd_queries_total counter\n")

	var qKeys []queryKey
	for k := range queriesTotal {
		qKeys = append(qKeys, k)
	}
	sort.Slice(qKeys, func(i, j int) bool {
		if qKeys[i].Mode != qKeys[j].Mode {
			return qKeys[i].Mode < qKeys[j].Mode
		}
		return qKeys[i].Reranked < qKeys[j].Reranked
	})
	for _, k := range qKeys {
		fmt.Fprintf(&b, "ragd_queries_total{mode=\"%s\",reranked=\"%s\"} %d\n",
			k.Mode, k.Reranked, queriesTotal[k])
	}

	b.WriteString("# HELP ragd_query_cache_hits_total Response cache hits\n")
	b.WriteString("# TYPE ragd_query_cache_hits_total counter\n")
	fmt.Fprintf(&b, "ragd_query_cache_hits_total %d\n", queryHits)

	b.WriteString("# HELP ragd_query_cache_misses_total Response cache misses\n")
	b.WriteString("# TYPE ragd_query_cache_misses_total counter\n")
	fmt.Fprintf(&b, "ragd_query_cache_misses_total %d\n", queryMisses)

	return b.String()
}
