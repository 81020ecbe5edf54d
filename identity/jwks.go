package identity

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

const maxJWKSBytes = 1 << 20

// JWKSConfig configures a JWKSCache.
type JWKSConfig struct {
	URL string
	// TTL bounds how long a fetched key set is trusted before refetching.
	TTL time.Duration
	// MinRefreshInterval rate limits refreshes triggered by unknown kids or
	// signature failures.
	MinRefreshInterval time.Duration
	FetchTimeout       time.Duration
	HTTPClient         *http.Client
}

// JWKSCache is a KeySource backed by a remote JWKS document. Keys are shared
// process-wide and concurrent refreshes collapse into a single fetch.
type JWKSCache struct {
	cfg    JWKSConfig
	client *http.Client
	now    func() time.Time
	group  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]crypto.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewJWKSCache validates cfg, applies defaults and returns an empty cache.
// The first PublicKey call fetches the key set.
func NewJWKSCache(cfg JWKSConfig) (*JWKSCache, error) {
	if cfg.URL == "" {
		return nil, errors.New("identity: JWKS URL is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 30 * time.Second
	}
	if cfg.MinRefreshInterval > cfg.TTL {
		return nil, errors.New("identity: JWKS MinRefreshInterval must not exceed TTL")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &JWKSCache{cfg: cfg, client: client, now: time.Now}, nil
}

// WithClock replaces the cache clock. Intended for tests.
func (c *JWKSCache) WithClock(now func() time.Time) *JWKSCache {
	c.now = now
	return c
}

// PublicKey returns the key for kid, fetching the key set when it is stale
// or when kid is unknown and the refresh interval allows it. A stale key is
// still served when the endpoint is unreachable.
func (c *JWKSCache) PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return key, nil
	}

	var fetchErr error
	if !fresh || c.refreshAllowed() {
		fetchErr = c.refresh(ctx)
	}

	key, ok, _ = c.lookup(kid)
	if ok {
		return key, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// Refresh reloads the key set unless the last attempt was within
// MinRefreshInterval.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	if !c.refreshAllowed() {
		return nil
	}
	return c.refresh(ctx)
}

func (c *JWKSCache) lookup(kid string) (crypto.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.cfg.TTL
	return key, ok, fresh
}

func (c *JWKSCache) refreshAllowed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAttempt.IsZero() || c.now().Sub(c.lastAttempt) >= c.cfg.MinRefreshInterval
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		c.mu.Lock()
		c.lastAttempt = c.now()
		c.mu.Unlock()

		// The fetch is shared by every waiter, so one caller's cancellation
		// must not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()

		keys, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxJWKSBytes {
		return nil, errors.New("jwks document too large")
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable signing keys")
	}
	return keys, nil
}
