package pyramid

import (
	"fmt"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// TileCache is a bounded LRU of decoded tiles shared by views. Cached rasters
// are immutable. Concurrent misses on one key decode once.
type TileCache struct {
	cfg   CacheConfig
	lru   *ccache.Cache[*Raster]
	group singleflight.Group
}

// NewTileCache returns a cache holding at most cfg.MaxTiles tiles.
func NewTileCache(cfg CacheConfig) (*TileCache, error) {
	if err := prepare(&cfg); err != nil {
		return nil, err
	}
	lru := ccache.New(ccache.Configure[*Raster]().
		MaxSize(cfg.MaxTiles).
		ItemsToPrune(cfg.ItemsToPrune))
	return &TileCache{cfg: cfg, lru: lru}, nil
}

// Get returns a cached tile or nil.
func (c *TileCache) Get(key string) *Raster {
	item := c.lru.Get(key)
	if item == nil || item.Expired() {
		return nil
	}
	return item.Value()
}

// Set caches r under key.
func (c *TileCache) Set(key string, r *Raster) {
	c.lru.Set(key, r, c.cfg.TTL)
}

// Fetch returns the cached tile under key, calling load once on a miss
// however many callers miss concurrently. Errors are not cached.
func (c *TileCache) Fetch(key string, load func() (*Raster, error)) (*Raster, error) {
	if r := c.Get(key); r != nil {
		return r, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if r := c.Get(key); r != nil {
			return r, nil
		}
		r, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Raster), nil
}

// Invalidate drops one entry.
func (c *TileCache) Invalidate(key string) {
	c.lru.Delete(key)
}

// InvalidatePrefix drops every entry whose key starts with prefix and returns
// how many were dropped.
func (c *TileCache) InvalidatePrefix(prefix string) int {
	return c.lru.DeletePrefix(prefix)
}

// Len is the number of cached tiles.
func (c *TileCache) Len() int {
	return c.lru.ItemCount()
}

// Stop releases the background goroutine of the cache.
func (c *TileCache) Stop() {
	c.lru.Stop()
}

// OnEvent implements Listener, dropping entries of changed tiles and
// mosaics.
func (c *TileCache) OnEvent(e Event) {
	prefix := e.PyramidID + "/" + e.MosaicID
	switch e.Kind {
	case TilesUpdated, TilesDeleted, TilesAdded:
		if len(e.Tiles) == 0 {
			c.InvalidatePrefix(prefix + "/")
			return
		}
		for _, t := range e.Tiles {
			c.Invalidate(fmt.Sprintf("%s/%d/%d", prefix, t.Col, t.Row))
		}
	case MosaicUpdated, MosaicDeleted:
		c.InvalidatePrefix(prefix + "/")
	case PyramidUpdated, PyramidDeleted:
		c.InvalidatePrefix(e.PyramidID + "/")
	case DataUpdated:
		c.lru.Clear()
	}
}
