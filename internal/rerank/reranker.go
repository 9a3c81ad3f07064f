package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Result is one reranked candidate: its index in the input slice and a
// relevance score in [0,1].
type Result struct {
	Index int
	Score float64
}

// Reranker scores (query, candidate) pairs with a yes/no cross-encoder
// served over HTTP. The model server pads on the left so the answer token is
// always the final position.
type Reranker struct {
	client      *http.Client
	baseURL     string
	model       string
	calibration *Calibration
	available   bool
}

// New probes the model server once. An unreachable server yields a reranker
// that reports unavailable; callers then fall back to embedding similarity.
func New(baseURL, model string, timeout time.Duration, calibration *Calibration) *Reranker {
	r := &Reranker{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		model:       model,
		calibration: calibration,
	}
	if baseURL != "" {
		r.available = r.probe()
	}
	return r
}

// Available reports whether the cross-encoder can be used.
func (r *Reranker) Available() bool {
	return r.available
}

func (r *Reranker) probe() bool {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Rerank scores every candidate against the query and returns results in
// descending score order. Ties keep input order.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []string) ([]Result, error) {
	if !r.available {
		return nil, fmt.Errorf("reranker model unavailable")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		score, err := r.score(ctx, query, c)
		if err != nil {
			return nil, fmt.Errorf("score candidate %d: %w", i, err)
		}
		if r.calibration != nil {
			score = r.calibration.Apply(score)
		}
		results[i] = Result{Index: i, Score: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

type completionRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	MaxTokens   int    `json:"max_tokens"`
	Temperature int    `json:"temperature"`
	Logprobs    int    `json:"logprobs"`
}

type completionResponse struct {
	Choices []struct {
		Logprobs struct {
			TopLogprobs []map[string]float64 `json:"top_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

func (r *Reranker) score(ctx context.Context, query, candidate string) (float64, error) {
	prompt := fmt.Sprintf("query: %s\ndocument: %s\nRelevant (yes/no)?", query, candidate)
	body, err := json.Marshal(completionRequest{
		Model:     r.model,
		Prompt:    prompt,
		MaxTokens: 1,
		Logprobs:  20,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("model server returned %d: %s", resp.StatusCode, msg)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Logprobs.TopLogprobs) == 0 {
		return 0, fmt.Errorf("model server returned no logprobs")
	}

	return yesProbability(parsed.Choices[0].Logprobs.TopLogprobs[0]), nil
}

// yesProbability computes P(yes) from the final-position token logprobs,
// normalized over the yes/no pair.
func yesProbability(logprobs map[string]float64) float64 {
	yes := math.Inf(-1)
	no := math.Inf(-1)
	for tok, lp := range logprobs {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "yes":
			if lp > yes {
				yes = lp
			}
		case "no":
			if lp > no {
				no = lp
			}
		}
	}

	if math.IsInf(yes, -1) && math.IsInf(no, -1) {
		return 0
	}
	if math.IsInf(no, -1) {
		return 1
	}
	if math.IsInf(yes, -1) {
		return 0
	}

	// Softmax over the pair, shifted for stability.
	m := math.Max(yes, no)
	ey := math.Exp(yes - m)
	en := math.Exp(no - m)
	return ey / (ey + en)
}
