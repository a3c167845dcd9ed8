package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCache creates the hot read cache based on the cache type
func NewCache(cacheType string, cacheMemoryTiles int, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", cacheMemoryTiles))
		return NewMemoryCache(cacheMemoryTiles), nil
	case "disabled":
		log.Info("Memory cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, disabled)", cacheType)
	}
}
