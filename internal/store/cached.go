package store

import (
	"context"
	"sync"
	"time"

	"github.com/ledgergate/ledgergate/internal/crypto"
	"github.com/ledgergate/ledgergate/internal/domain"
)

const (
	defaultProjectTTL = 5 * time.Minute
	defaultEntityTTL  = time.Minute
)

type CachedConfig struct {
	// ProjectTTL bounds how stale the project read model, including its
	// caching flag, may be. EntityTTL covers API key and provider key lookups.
	ProjectTTL time.Duration
	EntityTTL  time.Duration
}

// NewCached wraps the routing-path lookups in short-TTL read-through caches,
// so a request resolves without store round-trips once its tenant is warm.
// Organizations and Logs pass through untouched: billing reads balances and
// must see every debit.
//
// The cache is per replica and in memory only. Provider keys sit here with
// the credential already unsealed, and API keys are keyed by token digest,
// never by the bearer token itself.
func NewCached(st *Store, cfg CachedConfig) *Store {
	if cfg.ProjectTTL <= 0 {
		cfg.ProjectTTL = defaultProjectTTL
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = defaultEntityTTL
	}
	return &Store{
		APIKeys:       &cachedAPIKeys{next: st.APIKeys, cache: newTTLCache[*domain.APIKey](cfg.EntityTTL)},
		ProviderKeys:  &cachedProviderKeys{next: st.ProviderKeys, cache: newTTLCache[*domain.ProviderKey](cfg.EntityTTL)},
		Projects:      &cachedProjects{next: st.Projects, cache: newTTLCache[*domain.Project](cfg.ProjectTTL)},
		Organizations: st.Organizations,
		Logs:          st.Logs,
	}
}

type cachedAPIKeys struct {
	next  APIKeys
	cache *ttlCache[*domain.APIKey]
}

func (c *cachedAPIKeys) GetByToken(ctx context.Context, token string) (*domain.APIKey, error) {
	digest := crypto.HashToken(token)
	if key, ok := c.cache.get(digest); ok {
		return key, nil
	}
	key, err := c.next.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	c.cache.put(digest, key)
	return key, nil
}

type cachedProviderKeys struct {
	next  ProviderKeys
	cache *ttlCache[*domain.ProviderKey]
}

func (c *cachedProviderKeys) GetForProject(ctx context.Context, projectID, provider string) (*domain.ProviderKey, error) {
	cacheKey := projectID + "/" + provider
	if key, ok := c.cache.get(cacheKey); ok {
		return key, nil
	}
	key, err := c.next.GetForProject(ctx, projectID, provider)
	if err != nil {
		return nil, err
	}
	c.cache.put(cacheKey, key)
	return key, nil
}

type cachedProjects struct {
	next  Projects
	cache *ttlCache[*domain.Project]
}

func (c *cachedProjects) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	if project, ok := c.cache.get(id); ok {
		return project, nil
	}
	project, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.put(id, project)
	return project, nil
}

// ttlCache is a minimal expiring map. Misses and errors are never cached, so
// a revoked key disappears after at most one TTL while an unknown one is
// re-checked every time.
type ttlCache[V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]ttlItem[V]
}

type ttlItem[V any] struct {
	value     V
	expiresAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]ttlItem[V]),
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || c.now().After(item.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = ttlItem[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}
