package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider returns a deterministic vector per text.
type fakeProvider struct {
	dim   int
	calls atomic.Int64
	fail  atomic.Int64
}

func (f *fakeProvider) Dim() int { return f.dim }

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return nil, fmt.Errorf("upstream unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32((len(t)+j)%7) + 1
		}
		out[i] = v
	}
	return out, nil
}

func TestDocumentsNormalized(t *testing.T) {
	e := New(&fakeProvider{dim: 8}, Options{})

	vecs, err := e.Documents(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Documents returned error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-6 {
			t.Fatalf("vector %d not unit length: %f", i, math.Sqrt(sum))
		}
	}
}

func TestDocumentsDeterministic(t *testing.T) {
	e := New(&fakeProvider{dim: 8}, Options{})

	a, err := e.Documents(context.Background(), []string{"same text"})
	if err != nil {
		t.Fatalf("Documents returned error: %v", err)
	}
	b, err := e.Documents(context.Background(), []string{"same text"})
	if err != nil {
		t.Fatalf("Documents returned error: %v", err)
	}
	if d := 1 - Cosine(a[0], b[0]); d > 1e-6 {
		t.Fatalf("repeated embedding cosine distance %g exceeds 1e-6", d)
	}
}

func TestQueryUsesInstructionPrefix(t *testing.T) {
	var captured []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		captured = req.Input
		resp := map[string]any{"data": []map[string]any{
			{"index": 0, "embedding": []float32{3, 4}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewRemoteProvider(srv.URL, "sk-test", "test-model", 2, 5*time.Second)
	e := New(p, Options{QueryInstruction: "Given a web search query, retrieve relevant passages that answer the query"})

	vec, err := e.Query(context.Background(), "window group scenes")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected single input, got %d", len(captured))
	}
	if !strings.HasPrefix(captured[0], "Instruct: ") || !strings.Contains(captured[0], "\nQuery: window group scenes") {
		t.Fatalf("instruction prefix missing: %q", captured[0])
	}

	// 3-4-5 triangle normalizes to 0.6, 0.8.
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("unexpected normalized vector %v", vec)
	}
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{dim: 4}
	p.fail.Store(2)
	e := New(p, Options{})

	if _, err := e.Documents(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestEmbedGivesUpAfterBudget(t *testing.T) {
	p := &fakeProvider{dim: 4}
	p.fail.Store(10)
	e := New(p, Options{})

	if _, err := e.Documents(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("expected error after retry budget exhausted")
	}
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestRemoteProviderRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{
			{"index": 1, "embedding": []float32{0, 1}},
			{"index": 0, "embedding": []float32{1, 0}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewRemoteProvider(srv.URL, "sk-test", "test-model", 2, 5*time.Second)
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("provider did not restore input order: %v", vecs)
	}
}

func TestLocalProviderSerializesRequests(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)

		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{1, 2}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	p := NewLocalProvider(srv.URL, "test-model", 2, 5*time.Second)
	defer p.Close()

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := p.Embed(context.Background(), []string{"t"})
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Embed returned error: %v", err)
		}
	}
	if maxInFlight.Load() != 1 {
		t.Fatalf("local provider allowed %d concurrent requests", maxInFlight.Load())
	}
}
