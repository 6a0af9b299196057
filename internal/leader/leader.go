// Package leader answers one question: is this replica the elected instance
// allowed to run convergence work. Non-leaders mutate nothing.
package leader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

type Elector interface {
	IsLeader(ctx context.Context) (bool, error)
}

// Static is a fixed answer, used by tests and single-instance deployments.
type Static bool

func (s Static) IsLeader(context.Context) (bool, error) {
	return bool(s), nil
}

const (
	defaultElectorTimeout = 2 * time.Second
	defaultCacheTTL       = 5 * time.Second
)

// HTTP polls an elector sidecar that reports the current leader's hostname.
// The answer is cached briefly; leadership does not flap between ticks.
type HTTP struct {
	URL      string
	Hostname string
	CacheTTL time.Duration

	client *http.Client

	mu        sync.Mutex
	leader    bool
	fetchedAt time.Time
}

func NewHTTP(url string) (*HTTP, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	return &HTTP{
		URL:      url,
		Hostname: hostname,
		CacheTTL: defaultCacheTTL,
		client:   &http.Client{Timeout: defaultElectorTimeout},
	}, nil
}

type electorResponse struct {
	Name string `json:"name"`
}

func (h *HTTP) IsLeader(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ttl := h.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if !h.fetchedAt.IsZero() && time.Since(h.fetchedAt) < ttl {
		return h.leader, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return false, err
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: defaultElectorTimeout}
	}
	res, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("query elector: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return false, fmt.Errorf("elector status %d", res.StatusCode)
	}
	var body electorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode elector response: %w", err)
	}
	h.leader = body.Name == h.Hostname
	h.fetchedAt = time.Now()
	return h.leader, nil
}
