package client

import (
	"context"
	"strings"

	"github.com/allegro/bigcache/v3"

	"github.com/actual-software/re-bridge/internal/config"
	"github.com/actual-software/re-bridge/internal/constants"
	"github.com/actual-software/re-bridge/internal/metrics"
)

// resultCache keeps decompiled sources. A nil *resultCache is a disabled cache.
type resultCache struct {
	cache   *bigcache.BigCache
	metrics *metrics.Registry
}

func newResultCache(cfg config.CacheConfig, reg *metrics.Registry) (*resultCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}

	bcConfig := bigcache.DefaultConfig(ttl)
	bcConfig.Shards = 16
	bcConfig.MaxEntriesInWindow = 1024
	bcConfig.MaxEntrySize = 4096
	bcConfig.HardMaxCacheSize = 64
	bcConfig.CleanWindow = ttl / 2
	bcConfig.Verbose = false

	cache, err := bigcache.New(context.Background(), bcConfig)
	if err != nil {
		return nil, err
	}

	return &resultCache{cache: cache, metrics: reg}, nil
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (r *resultCache) Get(key string) (string, bool) {
	if r == nil {
		return "", false
	}

	data, err := r.cache.Get(key)
	hit := err == nil

	r.metrics.RecordCacheLookup(hit)

	if !hit {
		return "", false
	}

	return string(data), true
}

func (r *resultCache) Set(key, value string) {
	if r == nil {
		return
	}

	// A full shard only costs a cache miss later.
	_ = r.cache.Set(key, []byte(value))
}

func (r *resultCache) Close() error {
	if r == nil {
		return nil
	}

	return r.cache.Close()
}
