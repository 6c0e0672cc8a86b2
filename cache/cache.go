package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/xeptore/qoget/catalog"
)

var DefaultAlbumTTL = 1 * time.Hour

type Cache struct {
	Albums AlbumsCache
}

func New() *Cache {
	albumsCache := ccache.New(
		ccache.Configure[*catalog.Album]().
			MaxSize(1000).
			GetsPerPromote(3).
			PercentToPrune(1),
	)

	return &Cache{
		Albums: AlbumsCache{
			c:   albumsCache,
			mux: sync.Mutex{},
		},
	}
}

// AlbumsCache memoizes full album listings so an album referenced both by a
// purchase entry and by track backfill is fetched once per run.
type AlbumsCache struct {
	c   *ccache.Cache[*catalog.Album]
	mux sync.Mutex
}

func (c *AlbumsCache) Fetch(
	k string,
	ttl time.Duration,
	fetch func() (*catalog.Album, error),
) (*ccache.Item[*catalog.Album], error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, fmt.Errorf("fetch album: %w", err)
	}

	return v, nil
}
