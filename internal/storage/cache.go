package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"aichat/internal/catalog"
)

type cachedString struct {
	value string
	found bool
}

type cachedBool struct {
	value bool
	found bool
}

// Cached is a read-through cache in front of a Repository. Writes made through
// it invalidate the touched key; writes made by other processes become
// visible once the entry expires. Each key carries a generation bumped by
// writes, and a load that started before a write is not stored.
type Cached struct {
	Repository
	entries *expirable.LRU[string, any]

	mu  sync.Mutex
	gen map[string]uint64
}

// NewCached wraps repo. A ttl of zero disables caching and returns repo as-is.
func NewCached(repo Repository, ttl time.Duration) Repository {
	if ttl <= 0 {
		return repo
	}
	return &Cached{
		Repository: repo,
		entries:    expirable.NewLRU[string, any](16, nil, ttl),
		gen:        make(map[string]uint64),
	}
}

func (c *Cached) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[key]
}

// fill stores v unless key was written since the load began at gen.
func (c *Cached) fill(key string, gen uint64, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[key] == gen {
		c.entries.Add(key, v)
	}
}

func (c *Cached) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[key]++
	c.entries.Remove(key)
}

func (c *Cached) Models(ctx context.Context) (catalog.ModelList, error) {
	if v, ok := c.entries.Get(KeyModels); ok {
		return cloneModelList(v.(catalog.ModelList)), nil
	}
	gen := c.generation(KeyModels)
	list, err := c.Repository.Models(ctx)
	if err != nil {
		return catalog.ModelList{}, err
	}
	c.fill(KeyModels, gen, cloneModelList(list))
	return list, nil
}

func (c *Cached) ReplaceModels(ctx context.Context, models []catalog.ProviderConfig, expectedVersion int64) (int64, error) {
	defer c.invalidate(KeyModels)
	return c.Repository.ReplaceModels(ctx, models, expectedVersion)
}

func (c *Cached) AdminPasswordHash(ctx context.Context) (string, bool, error) {
	return c.cachedString(ctx, KeyAdminPassword, c.Repository.AdminPasswordHash)
}

func (c *Cached) SetAdminPasswordHash(ctx context.Context, hash string) error {
	defer c.invalidate(KeyAdminPassword)
	return c.Repository.SetAdminPasswordHash(ctx, hash)
}

func (c *Cached) GlobalAuthEnabled(ctx context.Context) (bool, bool, error) {
	if v, ok := c.entries.Get(KeyGlobalAuthEnabled); ok {
		b := v.(cachedBool)
		return b.value, b.found, nil
	}
	gen := c.generation(KeyGlobalAuthEnabled)
	enabled, found, err := c.Repository.GlobalAuthEnabled(ctx)
	if err != nil {
		return false, false, err
	}
	c.fill(KeyGlobalAuthEnabled, gen, cachedBool{value: enabled, found: found})
	return enabled, found, nil
}

func (c *Cached) SetGlobalAuthEnabled(ctx context.Context, enabled bool) error {
	defer c.invalidate(KeyGlobalAuthEnabled)
	return c.Repository.SetGlobalAuthEnabled(ctx, enabled)
}

func (c *Cached) GlobalPassword(ctx context.Context) (string, bool, error) {
	return c.cachedString(ctx, KeyGlobalPassword, c.Repository.GlobalPassword)
}

func (c *Cached) SetGlobalPassword(ctx context.Context, password string) error {
	defer c.invalidate(KeyGlobalPassword)
	return c.Repository.SetGlobalPassword(ctx, password)
}

func (c *Cached) cachedString(ctx context.Context, key string, load func(context.Context) (string, bool, error)) (string, bool, error) {
	if v, ok := c.entries.Get(key); ok {
		s := v.(cachedString)
		return s.value, s.found, nil
	}
	gen := c.generation(key)
	value, found, err := load(ctx)
	if err != nil {
		return "", false, err
	}
	c.fill(key, gen, cachedString{value: value, found: found})
	return value, found, nil
}

func cloneModelList(in catalog.ModelList) catalog.ModelList {
	out := catalog.ModelList{Version: in.Version, Models: make([]catalog.ProviderConfig, len(in.Models))}
	copy(out.Models, in.Models)
	return out
}
