package cache

import "slippyview/internal/tile"

type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(addr tile.Address) ([]byte, bool) {
	return nil, false
}

func (c *NoopCache) Set(addr tile.Address, value []byte) {
}

func (c *NoopCache) Delete(addr tile.Address) {
}

func (c *NoopCache) Clear() {
}
