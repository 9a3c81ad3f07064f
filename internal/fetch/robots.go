package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Robots is a per-host robots.txt gate. Unreachable or missing robots files
// allow crawling; an explicit disallow blocks it.
type Robots struct {
	client *http.Client
	agent  string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func NewRobots(agent string, timeout time.Duration) *Robots {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Robots{
		client: &http.Client{Timeout: timeout},
		agent:  agent,
		groups: make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the agent may fetch the URL.
func (r *Robots) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}

	group, err := r.group(ctx, u)
	if err != nil {
		return false, err
	}
	if group == nil {
		return true, nil
	}
	return group.Test(u.Path), nil
}

func (r *Robots) group(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	if g, ok := r.groups[key]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.agent)

	var group *robotstxt.Group
	resp, err := r.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if readErr == nil {
				if data, parseErr := robotstxt.FromBytes(body); parseErr == nil {
					group = data.FindGroup(r.agent)
				}
			}
		}
	}

	r.mu.Lock()
	r.groups[key] = group
	r.mu.Unlock()
	return group, nil
}
