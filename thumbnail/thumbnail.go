// Package thumbnail caches screenshot thumbnails in memory.
package thumbnail

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/logging"
)

// Fetcher downloads one thumbnail.
type Fetcher interface {
	FetchThumbnail(ctx context.Context, path string) (backend.Thumbnail, error)
}

// Cache keeps fetched thumbnails for ttl and collapses concurrent fetches of
// the same path into one request. Failures are not cached.
type Cache struct {
	fetcher Fetcher
	cache   *cache.Cache
	group   singleflight.Group
	logger  *zap.Logger
}

func NewCache(fetcher Fetcher, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		fetcher: fetcher,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logging.OrNop(logger).Named("thumbnail"),
	}
}

func (c *Cache) Get(ctx context.Context, path string) (backend.Thumbnail, error) {
	if x, found := c.cache.Get(path); found {
		return x.(backend.Thumbnail), nil
	}

	v, err, shared := c.group.Do(path, func() (any, error) {
		thumb, err := c.fetcher.FetchThumbnail(ctx, path)
		if err != nil {
			return backend.Thumbnail{}, err
		}
		c.cache.Set(path, thumb, cache.DefaultExpiration)
		return thumb, nil
	})
	if err != nil {
		c.logger.Warn("thumbnail fetch failed", zap.String("path", path), zap.Error(err))
		return backend.Thumbnail{}, err
	}
	c.logger.Debug("thumbnail fetched", zap.String("path", path), zap.Bool("shared", shared))
	return v.(backend.Thumbnail), nil
}

func (c *Cache) Len() int {
	return c.cache.ItemCount()
}

func (c *Cache) Flush() {
	c.cache.Flush()
}
