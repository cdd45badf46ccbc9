package domain

// PersistentCache is the host-owned key/value store for cache blobs.
// Values are opaque JSON documents; Flush makes pending Sets durable.
type PersistentCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Flush() error
	Close() error
}

// Cache bucket keys
const (
	CacheKeyOffers       = "offers"
	CacheKeyGameTime     = "game_time"
	CacheKeyEntitlements = "entitlements"
)
