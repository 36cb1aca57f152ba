// Package webfront implements the optional Web-front Status Client
// (§4.3): an HTTP cross-check against an external status API, with a
// short-TTL cache coalescing bursty requests from the per-server
// processing loop. No HTTP client library appears in the pack for this
// kind of simple GET+JSON call, so this stays on net/http the way the
// teacher's own q3master has no HTTP client code to draw from either.
package webfront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchqueue/internal/errkind"
)

// Player is one connected player as reported by the web-front.
type Player struct {
	Name string `json:"name"`
}

// ServerStatus is one game server instance's status as reported by the
// web-front, per the §6 wire format.
type ServerStatus struct {
	ListenAddress string   `json:"listenAddress"`
	ListenPort    int      `json:"listenPort"`
	Players       []Player `json:"players"`
}

// Client fetches and short-TTL-caches web-front status by instance id.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	fetchedAt time.Time
	statuses  []ServerStatus
}

// New builds a webfront Client. An empty baseURL disables the
// cross-check entirely; callers should gate calls on
// config.ConfirmJoinsWithWebfrontAPI instead of relying on that, but
// FetchInstance degrades to "no data" either way.
func New(baseURL string, ttl time.Duration, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		cache:   make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// FetchInstance returns the per-server statuses for instanceId. A
// transport error or non-2xx response yields an empty, non-error
// result: callers (the Queueing Service) treat "no data" as "assume
// joined" per §4.6 step 3.
func (c *Client) FetchInstance(ctx context.Context, instanceID string) []ServerStatus {
	if c.baseURL == "" {
		return nil
	}

	c.mu.Lock()
	if entry, ok := c.cache[instanceID]; ok && time.Since(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.statuses
	}
	c.mu.Unlock()

	statuses := c.fetch(ctx, instanceID)

	c.mu.Lock()
	c.cache[instanceID] = cacheEntry{fetchedAt: time.Now(), statuses: statuses}
	c.mu.Unlock()

	return statuses
}

func (c *Client) fetch(ctx context.Context, instanceID string) []ServerStatus {
	url := fmt.Sprintf("%s/api/status?instance=%s", c.baseURL, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.log.Warn("build webfront request", zap.Error(err))
		return nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		classified := errkind.New(errkind.TransientNetwork, "webfront.fetch", err)
		c.log.Warn("webfront fetch failed", zap.String("instance", instanceID), zap.Error(classified))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := errkind.New(errkind.TransientNetwork, "webfront.fetch", fmt.Errorf("status %d", resp.StatusCode))
		c.log.Warn("webfront non-2xx response", zap.Error(classified))
		return nil
	}

	var statuses []ServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		classified := errkind.New(errkind.TransientNetwork, "webfront.fetch", err)
		c.log.Warn("decode webfront response", zap.Error(classified))
		return nil
	}
	return statuses
}

// ActualPlayerNames narrows a FetchInstance result down to the player
// names reported for one (listenAddress, listenPort), and reports
// whether the result held an entry for that specific server. An
// instance that returned entries only for other servers yields
// hadData=false, the same as no data at all.
func ActualPlayerNames(statuses []ServerStatus, listenAddress string, listenPort int) (names map[string]bool, hadData bool) {
	if statuses == nil {
		return nil, false
	}
	names = make(map[string]bool)
	for _, s := range statuses {
		if s.ListenAddress == listenAddress && s.ListenPort == listenPort {
			hadData = true
			for _, p := range s.Players {
				names[p.Name] = true
			}
		}
	}
	return names, hadData
}
