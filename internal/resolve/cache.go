// Package resolve turns opaque file reference ids into displayable image
// locators via an authenticated lookup, with strict request discipline:
// at most one in-flight lookup per id, a cooldown after failure, and no
// automatic retries.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"inlay/internal/auth"
	"inlay/internal/config"
	"inlay/internal/logging"
)

// ErrCoolingDown is returned when a file id failed recently and its
// cooldown has not elapsed. No network call is made.
var ErrCoolingDown = errors.New("resolution cooling down after failure")

// ErrBadLocator is returned when the lookup response has no http(s) url.
var ErrBadLocator = errors.New("lookup response carries no http(s) locator")

const maxLookupBody = 1 << 20

type failure struct {
	msg   string
	until time.Time
}

// Stats counts cache activity for the teardown report.
type Stats struct {
	Hits               int64
	Lookups            int64
	Failures           int64
	CooldownRejections int64
}

// Cache resolves file reference ids. One instance per engine; cleared only
// on teardown.
type Cache struct {
	cfg      config.ResolveConfig
	cooldown time.Duration
	timeout  time.Duration
	auth     *auth.Context
	client   *http.Client
	log      *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	resolved map[string]string
	failed   map[string]failure
	stats    Stats
}

// New creates a cache using the configured lookup endpoint and cooldown.
func New(cfg *config.Config, authCtx *auth.Context) *Cache {
	return &Cache{
		cfg:      cfg.Resolve,
		cooldown: cfg.Cooldown(),
		timeout:  cfg.LookupTimeout(),
		auth:     authCtx,
		client:   &http.Client{Timeout: cfg.LookupTimeout()},
		log:      logging.Get(logging.CategoryResolve),
		now:      time.Now,
		resolved: make(map[string]string),
		failed:   make(map[string]failure),
	}
}

// Resolve returns the displayable locator for a file id.
//
//  1. A cached locator returns immediately.
//  2. During an active cooldown it fails fast, no network.
//  3. Concurrent callers for the same id share one flight.
//  4. Otherwise one authenticated GET against the templated endpoint, with
//     headers scoped to conversationID.
//
// The returned locator is only ever used as an image source by the render
// surface; the engine never fetches it itself.
func (c *Cache) Resolve(ctx context.Context, fileID, conversationID string) (string, error) {
	if fileID == "" {
		return "", errors.New("empty file id")
	}

	if url, done, err := c.checkTables(fileID); done {
		return url, err
	}

	v, err, _ := c.group.Do(fileID, func() (interface{}, error) {
		// Re-check under the flight: a caller that lost the race to an
		// already-completed flight must not trigger a second lookup.
		if url, done, err := c.checkTables(fileID); done {
			return url, err
		}
		return c.lookup(ctx, fileID, conversationID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) checkTables(fileID string) (url string, done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if url, ok := c.resolved[fileID]; ok {
		c.stats.Hits++
		return url, true, nil
	}
	if f, ok := c.failed[fileID]; ok {
		if c.now().Before(f.until) {
			c.stats.CooldownRejections++
			return "", true, fmt.Errorf("%w: %s", ErrCoolingDown, f.msg)
		}
		// Cooldown elapsed: the id is eligible again.
		delete(c.failed, fileID)
	}
	return "", false, nil
}

func (c *Cache) lookup(ctx context.Context, fileID, conversationID string) (string, error) {
	c.mu.Lock()
	c.stats.Lookups++
	c.mu.Unlock()

	url, err := c.doLookup(ctx, fileID, conversationID)
	if err != nil {
		c.recordFailure(fileID, err)
		return "", err
	}

	c.mu.Lock()
	c.resolved[fileID] = url
	delete(c.failed, fileID)
	c.mu.Unlock()

	c.log.Debug("file reference resolved",
		zap.String("file", fileID),
		zap.String("conversation", conversationID))
	return url, nil
}

func (c *Cache) doLookup(ctx context.Context, fileID, conversationID string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.LookupURL(fileID), nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}
	for k, vs := range c.auth.HeadersFor(conversationID) {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		return "", fmt.Errorf("read lookup response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("lookup status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	if !strings.HasPrefix(payload.URL, "http://") && !strings.HasPrefix(payload.URL, "https://") {
		return "", fmt.Errorf("%w: %q", ErrBadLocator, truncate(payload.URL, 100))
	}
	return payload.URL, nil
}

func (c *Cache) recordFailure(fileID string, err error) {
	c.mu.Lock()
	c.stats.Failures++
	c.failed[fileID] = failure{msg: err.Error(), until: c.now().Add(c.cooldown)}
	c.mu.Unlock()

	c.log.Warn("file reference lookup failed",
		zap.String("file", fileID),
		zap.Duration("cooldown", c.cooldown),
		zap.Error(err))
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Clear drops resolved locators and failure records. Teardown only.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = make(map[string]string)
	c.failed = make(map[string]failure)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
