package cache

import "slippyview/internal/tile"

// Cache is the in-memory layer in front of the disk store. It holds raw tile
// bytes of recently read tiles and may drop entries at any time.
type Cache interface {
	Get(addr tile.Address) ([]byte, bool)
	Set(addr tile.Address, value []byte)
	Delete(addr tile.Address)
	Clear()
}
