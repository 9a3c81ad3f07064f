package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// LocalProvider talks to a model server on the local host exposing the same
// embeddings contract as the remote API. Requests are serialized through a
// single worker because the backing model owns one accelerator; callers
// queue in FIFO order on the request channel.
type LocalProvider struct {
	client  *http.Client
	baseURL string
	model   string
	dim     int

	requests chan localRequest
	done     chan struct{}
}

type localRequest struct {
	ctx   context.Context
	texts []string
	reply chan localReply
}

type localReply struct {
	vecs [][]float32
	err  error
}

func NewLocalProvider(baseURL, model string, dim int, timeout time.Duration) *LocalProvider {
	p := &LocalProvider{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		model:    model,
		dim:      dim,
		requests: make(chan localRequest),
		done:     make(chan struct{}),
	}
	go p.worker()
	return p
}

func (p *LocalProvider) Dim() int { return p.dim }

// Close stops the worker goroutine.
func (p *LocalProvider) Close() {
	close(p.done)
}

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := localRequest{ctx: ctx, texts: texts, reply: make(chan localReply, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("local embedding provider closed")
	}

	select {
	case r := <-req.reply:
		return r.vecs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *LocalProvider) worker() {
	for {
		select {
		case req := <-p.requests:
			vecs, err := p.call(req.ctx, req.texts)
			req.reply <- localReply{vecs: vecs, err: err}
		case <-p.done:
			return
		}
	}
}

func (p *LocalProvider) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("local model server returned %d: %s", resp.StatusCode, msg)
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("model server returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
