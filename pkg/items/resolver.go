// Package items resolves item tags to display names using the items API.
package items

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const namesPath = "/api/items/names"

// Config controls the resolver
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	RefreshInterval time.Duration
	// RateLimit caps name list fetches per second
	RateLimit  float64
	MaxRetries int
}

// ItemPreview is one entry of the names endpoint
type ItemPreview struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

// Resolver caches the tag → name table and refreshes it lazily in the
// background. Lookups never wait on the items API.
type Resolver struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	refreshing atomic.Bool
	wg         sync.WaitGroup

	mu        sync.RWMutex
	names     map[string]string
	fetchedAt time.Time
	now       func() time.Time
}

// NewResolver creates a Resolver. A zero RefreshInterval means the table is
// fetched once and kept.
func NewResolver(cfg Config, logger zerolog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		ctx:    ctx,
		cancel: cancel,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "items").Logger(),
		now:     time.Now,
	}
}

// ItemName returns the display name of itemID from the cached table, or ""
// when it is unknown or no table has been fetched yet. A stale table starts a
// background refresh.
func (r *Resolver) ItemName(_ context.Context, itemID string) string {
	if r.stale() {
		r.RefreshInBackground()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[itemID]
}

// RefreshInBackground starts a refresh unless one is already running
func (r *Resolver) RefreshInBackground() {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		r.refreshing.Store(false)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.refreshing.Store(false)
		if err := r.Refresh(r.ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to refresh item names")
		}
	}()
}

func (r *Resolver) stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.names == nil {
		return true
	}
	return r.cfg.RefreshInterval > 0 && r.now().Sub(r.fetchedAt) >= r.cfg.RefreshInterval
}

// Refresh fetches the name table. Calls beyond the rate limit are dropped
// and keep the current table.
func (r *Resolver) Refresh(ctx context.Context) error {
	if !r.limiter.Allow() {
		return nil
	}
	previews, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	names := make(map[string]string, len(previews))
	for _, p := range previews {
		if _, ok := names[p.Tag]; !ok {
			names[p.Tag] = p.Name
		}
	}

	r.mu.Lock()
	r.names = names
	r.fetchedAt = r.now()
	r.mu.Unlock()

	r.logger.Debug().Int("count", len(names)).Msg("Refreshed item names")
	return nil
}

func (r *Resolver) fetch(ctx context.Context) ([]ItemPreview, error) {
	url := r.cfg.BaseURL + namesPath

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		previews, err := r.fetchOnce(ctx, url)
		if err == nil {
			return previews, nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, r.cfg.MaxRetries, err)
		r.logger.Debug().Err(err).Int("attempt", attempt).Msg("Item names request failed")

		if attempt == r.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("failed to fetch item names: %w", lastErr)
}

func (r *Resolver) fetchOnce(ctx context.Context, url string) ([]ItemPreview, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var previews []ItemPreview
	if err := json.NewDecoder(resp.Body).Decode(&previews); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return previews, nil
}

// Close stops a running refresh and releases idle connections
func (r *Resolver) Close() error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.client.CloseIdleConnections()
	return nil
}

// Static is a fixed tag → name table, handy for tests and offline runs
type Static map[string]string

// ItemName returns the configured name or ""
func (s Static) ItemName(_ context.Context, itemID string) string {
	return s[itemID]
}
