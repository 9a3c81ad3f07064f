package metrics

import (
	"strings"
	"testing"
)

func TestExportIncludesRecordedSeries(t *testing.T) {
	RecordRequest("POST", "/tools/perform_rag_query", 200, 12)
	RecordCrawl("success")
	RecordCrawl("blocked")
	RecordIngest(8, 2, 40000, 9000)
	RecordQuery("hybrid", true)
	RecordQueryCache(false)

	out := Export()

	for _, want := range []string{
		`ragd_http_requests_total{method="POST",path="/tools/perform_rag_query",status="200"}`,
		`ragd_crawl_fetches_total{outcome="success"}`,
		`ragd_crawl_fetches_total{outcome="blocked"}`,
		"ragd_pages_processed_total",
		"ragd_chunks_embedded_total",
		"ragd_chunks_dropped_total",
		`ragd_queries_total{mode="hybrid",reranked="true"}`,
		"ragd_query_cache_misses_total",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q\n%s", want, out)
		}
	}
}

func TestExportStableOrdering(t *testing.T) {
	RecordCrawl("transient")
	RecordCrawl("permanent")

	a := Export()
	b := Export()
	if a != b {
		t.Fatalf("export output not stable across calls")
	}
}
