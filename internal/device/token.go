package device

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultUserTokenTTL is how long a user token is reused before a new one
// is requested. The cloud issues them for about a day.
const defaultUserTokenTTL = time.Hour

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// userTokenCache holds short-lived user tokens keyed by device token.
// Concurrent misses for the same device share one fetch; fetches for
// different devices never wait on each other.
// This type is safe for concurrent use.
type userTokenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedToken
	group   singleflight.Group
	fetch   func(ctx context.Context, deviceToken string) (string, error)
	now     func() time.Time
}

func newUserTokenCache(ttl time.Duration, fetch func(context.Context, string) (string, error)) *userTokenCache {
	if ttl <= 0 {
		ttl = defaultUserTokenTTL
	}
	return &userTokenCache{
		ttl:     ttl,
		entries: make(map[string]cachedToken),
		fetch:   fetch,
		now:     time.Now,
	}
}

// Token returns a cached user token for deviceToken or fetches a new one.
// It returns ctx.Err() as soon as ctx is done, even while a shared fetch
// is still running.
func (c *userTokenCache) Token(ctx context.Context, deviceToken string) (string, error) {
	if value, ok := c.lookup(deviceToken); ok {
		return value, nil
	}

	// The shared fetch outlives any single caller; the http.Client timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(deviceToken, func() (any, error) {
		value, err := c.fetch(fetchCtx, deviceToken)
		if err != nil {
			return "", err
		}
		c.store(deviceToken, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached user token for deviceToken, typically after
// the cloud answered 401.
func (c *userTokenCache) Invalidate(deviceToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, deviceToken)
}

func (c *userTokenCache) lookup(deviceToken string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[deviceToken]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// store saves a token and prunes expired entries, so device tokens that
// were replaced or deleted do not accumulate.
func (c *userTokenCache) store(deviceToken, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.entries[deviceToken] = cachedToken{value: value, expiresAt: now.Add(c.ttl)}
}
