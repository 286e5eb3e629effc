package server

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// blockList tracks IPs that are temporarily rejected after exceeding the
// per-tick packet rate limit. Entries expire on their own; nothing ever
// needs to sweep it explicitly.
type blockList struct {
	cache *ttlcache.Cache[string, struct{}]
}

func newBlockList(duration time.Duration) *blockList {
	cache := ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](duration))
	go cache.Start()
	return &blockList{cache: cache}
}

func (b *blockList) block(ip string) {
	b.cache.Set(ip, struct{}{}, ttlcache.DefaultTTL)
}

func (b *blockList) isBlocked(ip string) bool {
	return b.cache.Get(ip) != nil
}

func (b *blockList) len() int {
	return b.cache.Len()
}

func (b *blockList) stop() {
	b.cache.Stop()
}
