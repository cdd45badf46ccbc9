package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/metrics"
	"github.com/mmcdole/originbridge/internal/origin"
)

// offerFetcher is the slice of the backend the coordinator needs (consumer-defined interface)
type offerFetcher interface {
	GetOffer(ctx context.Context, offerID domain.OfferID) (domain.Offer, error)
	GetGameTime(ctx context.Context, userID string, masterTitleID domain.MasterTitleID, multiplayerID string) (int64, *int64, error)
}

// CacheCoordinator owns the offer, playtime and entitlement caches.
// Nothing reaches the persistent cache until FlushIfDirty.
type CacheCoordinator struct {
	store   domain.PersistentCache
	backend offerFetcher
	logger  *slog.Logger

	mu           sync.Mutex
	offers       map[domain.OfferID]domain.Offer
	gameTimes    map[domain.OfferID]domain.GameTime
	entitlements map[string][]domain.Entitlement
	dirty        map[string]struct{}
}

// NewCacheCoordinator creates a coordinator with empty buckets; call Load to read the store
func NewCacheCoordinator(store domain.PersistentCache, backend offerFetcher, logger *slog.Logger) *CacheCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheCoordinator{
		store:        store,
		backend:      backend,
		logger:       logger,
		offers:       make(map[domain.OfferID]domain.Offer),
		gameTimes:    make(map[domain.OfferID]domain.GameTime),
		entitlements: make(map[string][]domain.Entitlement),
		dirty:        make(map[string]struct{}),
	}
}

// Load reads every bucket from the store. A bucket that fails to decode is
// replaced by an empty one.
func (c *CacheCoordinator) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rawOffers map[domain.OfferID]json.RawMessage
	if c.decodeBucket(domain.CacheKeyOffers, &rawOffers) {
		for id, raw := range rawOffers {
			offer, err := origin.MapOffer(raw)
			if err != nil {
				c.logger.Warn("dropping cached offer", "offerID", id, "error", err)
				continue
			}
			c.offers[id] = offer
		}
	}

	var times map[domain.OfferID]domain.GameTime
	if c.decodeBucket(domain.CacheKeyGameTime, &times) {
		for id, gt := range times {
			if id == "" {
				continue
			}
			gt.GameID = id
			c.gameTimes[id] = gt
		}
	}

	var ents map[string][]domain.Entitlement
	if c.decodeBucket(domain.CacheKeyEntitlements, &ents) {
		maps.Copy(c.entitlements, ents)
	}

	c.logger.Info("loaded caches",
		"offers", len(c.offers),
		"gameTimes", len(c.gameTimes),
		"entitlements", len(c.entitlements),
	)
}

func (c *CacheCoordinator) decodeBucket(key string, dest any) bool {
	data, ok := c.store.Get(key)
	if !ok || len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("can not parse cache, starting empty", "bucket", key, "error", err, "content", string(data))
		return false
	}
	return true
}

// Offer returns a cached offer without touching the backend
func (c *CacheCoordinator) Offer(id domain.OfferID) (domain.Offer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offer, ok := c.offers[id]
	return offer, ok
}

// Offers returns every cached offer sorted by id
func (c *CacheCoordinator) Offers() []domain.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Offer, 0, len(c.offers))
	for _, id := range slices.Sorted(maps.Keys(c.offers)) {
		out = append(out, c.offers[id])
	}
	return out
}

// GetOffers returns the offers for ids in request order, fetching the missing ones
// concurrently. An offer that fails to fetch is logged and left out. Duplicate ids
// are fetched and returned once.
func (c *CacheCoordinator) GetOffers(ctx context.Context, ids []domain.OfferID) ([]domain.Offer, error) {
	unique := make([]domain.OfferID, 0, len(ids))
	seen := make(map[domain.OfferID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	c.mu.Lock()
	var missing []domain.OfferID
	for _, id := range unique {
		if _, ok := c.offers[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		c.logger.Debug("fetching missing offers", "count", len(missing), "cached", len(unique)-len(missing))

		fetched := make([]*domain.Offer, len(missing))
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range missing {
			g.Go(func() error {
				offer, err := c.backend.GetOffer(gctx, id)
				if err != nil {
					c.logger.Error("failed to fetch offer", "offerID", id, "error", err)
					metrics.CacheFetchFailures.WithLabelValues(domain.CacheKeyOffers).Inc()
					return nil
				}
				fetched[i] = &offer
				return nil
			})
		}
		g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		for _, offer := range fetched {
			if offer == nil {
				continue
			}
			c.offers[offer.OfferID] = *offer
			c.dirty[domain.CacheKeyOffers] = struct{}{}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]domain.Offer, 0, len(unique))
	for _, id := range unique {
		if offer, ok := c.offers[id]; ok {
			result = append(result, offer)
		}
	}
	return result, nil
}

// GameTime returns playtime for an offer. The cached entry is served when the
// backend's last-played hint is not newer than the cached session end; otherwise
// usage is fetched and the entry replaced.
func (c *CacheCoordinator) GameTime(ctx context.Context, userID string, offerID domain.OfferID, masterTitleID domain.MasterTitleID, multiplayerID string, lastPlayed *int64) (domain.GameTime, error) {
	c.mu.Lock()
	cached, ok := c.gameTimes[offerID]
	c.mu.Unlock()

	if ok && lastPlayed != nil && cached.LastPlayed != nil && *lastPlayed <= *cached.LastPlayed {
		c.logger.Debug("using cached game time", "offerID", offerID)
		return cached, nil
	}

	minutes, last, err := c.backend.GetGameTime(ctx, userID, masterTitleID, multiplayerID)
	if err != nil {
		metrics.CacheFetchFailures.WithLabelValues(domain.CacheKeyGameTime).Inc()
		return domain.GameTime{}, err
	}

	gt := domain.GameTime{GameID: offerID, TimePlayed: minutes, LastPlayed: last}
	c.mu.Lock()
	c.gameTimes[offerID] = gt
	c.dirty[domain.CacheKeyGameTime] = struct{}{}
	c.mu.Unlock()
	return gt, nil
}

// SetEntitlements remembers the latest entitlement list of a user
func (c *CacheCoordinator) SetEntitlements(userID string, ents []domain.Entitlement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlements[userID] = slices.Clone(ents)
	c.dirty[domain.CacheKeyEntitlements] = struct{}{}
}

// Entitlements returns the last stored entitlement list of a user
func (c *CacheCoordinator) Entitlements(userID string) ([]domain.Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ents, ok := c.entitlements[userID]
	return slices.Clone(ents), ok
}

// FlushIfDirty writes the changed buckets and flushes the store once
func (c *CacheCoordinator) FlushIfDirty() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}

	for key := range c.dirty {
		data, err := c.encodeBucket(key)
		if err != nil {
			return err
		}
		if err := c.store.Set(key, data); err != nil {
			return err
		}
	}
	if err := c.store.Flush(); err != nil {
		return err
	}

	c.logger.Debug("flushed caches", "buckets", slices.Sorted(maps.Keys(c.dirty)))
	c.dirty = make(map[string]struct{})
	return nil
}

func (c *CacheCoordinator) encodeBucket(key string) ([]byte, error) {
	switch key {
	case domain.CacheKeyOffers:
		raw := make(map[domain.OfferID]json.RawMessage, len(c.offers))
		for id, offer := range c.offers {
			raw[id] = offer.Raw
		}
		return json.Marshal(raw)
	case domain.CacheKeyGameTime:
		return json.Marshal(c.gameTimes)
	default:
		return json.Marshal(c.entitlements)
	}
}
