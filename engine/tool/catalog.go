package tool

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCatalogSize = 256
	defaultCatalogTTL  = 5 * time.Minute
)

// SchemaSource loads catalog entries from durable storage.
type SchemaSource interface {
	GetSchema(ctx context.Context, id string) (*Schema, error)
}

// Catalog caches tool schemas. Entries expire after the TTL and can be
// refreshed or dropped explicitly when the catalog changes.
type Catalog struct {
	source SchemaSource
	cache  *expirable.LRU[string, *Schema]
}

func NewCatalog(source SchemaSource, size int, ttl time.Duration) *Catalog {
	if size <= 0 {
		size = defaultCatalogSize
	}
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &Catalog{
		source: source,
		cache:  expirable.NewLRU[string, *Schema](size, nil, ttl),
	}
}

// Get returns the cached schema or loads it from the source.
func (c *Catalog) Get(ctx context.Context, id string) (*Schema, error) {
	if schema, ok := c.cache.Get(id); ok {
		return schema, nil
	}
	return c.Refresh(ctx, id)
}

// Refresh reloads a schema from the source and replaces the cached copy.
func (c *Catalog) Refresh(ctx context.Context, id string) (*Schema, error) {
	schema, err := c.source.GetSchema(ctx, id)
	if err != nil {
		c.cache.Remove(id)
		return nil, err
	}
	c.cache.Add(id, schema)
	return schema, nil
}

func (c *Catalog) Invalidate(id string) {
	c.cache.Remove(id)
}

func (c *Catalog) Len() int {
	return c.cache.Len()
}
