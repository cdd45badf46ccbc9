package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/origin"
)

const (
	defaultRefreshInterval = 5 * time.Second
	eventBufferSize        = 64

	// subscriptionSuffix marks library entries owned through a subscription tier
	subscriptionSuffix = "@subscription"
	favoriteTag        = "favorite"
)

// authenticator abstracts the token-holding HTTP client (consumer-defined interface)
type authenticator interface {
	Authenticate(ctx context.Context, cookies map[string]string) error
	IsAuthenticated() bool
	SetAuthLostCallback(fn func())
	SetCookiesUpdatedCallback(fn func(map[string]string))
	Close()
}

// localGames abstracts the local install tracker (consumer-defined interface)
type localGames interface {
	Update(ctx context.Context) (games, changes []domain.LocalGame, err error)
	TryUpdate(ctx context.Context) (games, changes []domain.LocalGame, err error)
	LocalGames() []domain.LocalGame
	LastScan() time.Time
	LocalSize(gameID string) (int64, error)
}

// Options wires the Plugin's collaborators
type Options struct {
	Auth            authenticator
	Backend         domain.Backend
	Store           domain.PersistentCache
	Local           localGames
	Launcher        domain.Launcher
	RefreshInterval time.Duration
	Logger          *slog.Logger
}

// Plugin is the command surface the host drives
type Plugin struct {
	auth     authenticator
	backend  domain.Backend
	caches   *CacheCoordinator
	local    localGames
	launcher domain.Launcher
	logger   *slog.Logger

	refreshInterval time.Duration
	now             func() time.Time

	mu   sync.RWMutex
	user domain.UserInfo

	// lifecycle orders starting scans against Shutdown closing done
	lifecycle sync.Mutex
	scanning  atomic.Bool
	scans     sync.WaitGroup

	noticeMu   sync.Mutex
	notices    pendingNotices
	wake       chan struct{}
	dispatcher sync.WaitGroup

	events   chan Event
	done     chan struct{}
	shutdown sync.Once
}

// NewPlugin creates a Plugin and subscribes to the auth client's notifications
func NewPlugin(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	p := &Plugin{
		auth:            opts.Auth,
		backend:         opts.Backend,
		caches:          NewCacheCoordinator(opts.Store, opts.Backend, logger),
		local:           opts.Local,
		launcher:        opts.Launcher,
		logger:          logger,
		refreshInterval: interval,
		now:             time.Now,
		wake:            make(chan struct{}, 1),
		events:          make(chan Event, eventBufferSize),
		done:            make(chan struct{}),
	}

	p.auth.SetAuthLostCallback(func() {
		p.logger.Warn("authentication lost")
		p.notifyAuthLost()
	})
	p.auth.SetCookiesUpdatedCallback(p.notifyCookies)
	p.dispatcher.Go(p.dispatch)
	return p
}

// Events delivers host notifications. The channel is never closed; stop reading
// after Shutdown.
func (p *Plugin) Events() <-chan Event {
	return p.events
}

// Start loads the caches and takes the first local snapshot, which later
// scans are diffed against
func (p *Plugin) Start(ctx context.Context) error {
	p.caches.Load()
	games, _, err := p.local.Update(ctx)
	if err != nil {
		return fmt.Errorf("initial local scan failed: %w", err)
	}
	p.logger.Info("plugin started", "localGames", len(games))
	return nil
}

// Authenticate signs in with stored session cookies and resolves the account
func (p *Plugin) Authenticate(ctx context.Context, cookies map[string]string) (domain.UserInfo, error) {
	if len(cookies) == 0 {
		return domain.UserInfo{}, domain.ErrAuthenticationRequired
	}

	if err := p.auth.Authenticate(ctx, cookies); err != nil {
		if domain.IsAuthRejection(err) {
			return domain.UserInfo{}, fmt.Errorf("%w: %v", domain.ErrAuthenticationRequired, err)
		}
		return domain.UserInfo{}, err
	}

	user, err := p.backend.GetIdentity(ctx)
	if err != nil {
		p.logger.Error("failed to resolve identity", "error", err)
		return domain.UserInfo{}, err
	}

	p.mu.Lock()
	p.user = user
	p.mu.Unlock()

	p.logger.Info("authenticated", "userID", user.UserID, "personaID", user.PersonaID)
	return user, nil
}

// currentUser returns the signed-in account or ErrAuthenticationRequired
func (p *Plugin) currentUser() (domain.UserInfo, error) {
	if !p.auth.IsAuthenticated() {
		return domain.UserInfo{}, domain.ErrAuthenticationRequired
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user.UserID == "" {
		return domain.UserInfo{}, domain.ErrAuthenticationRequired
	}
	return p.user, nil
}

func (p *Plugin) flush() {
	if err := p.caches.FlushIfDirty(); err != nil {
		p.logger.Error("failed to persist caches", "error", err)
	}
}

// GetOwnedGames lists the account's base games. When the backend is transiently
// unavailable the last stored entitlement list is used.
func (p *Plugin) GetOwnedGames(ctx context.Context) ([]domain.Game, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	defer p.flush()

	ents, err := p.backend.GetEntitlements(ctx, user.UserID)
	switch {
	case err == nil:
		p.caches.SetEntitlements(user.UserID, ents)
	case domain.IsTransient(err):
		cached, ok := p.caches.Entitlements(user.UserID)
		if !ok {
			return nil, err
		}
		p.logger.Warn("backend unavailable, using cached entitlements", "error", err, "count", len(cached))
		ents = cached
	default:
		return nil, err
	}

	var ids []domain.OfferID
	for _, e := range ents {
		if e.OfferType == "basegame" {
			ids = append(ids, e.OfferID)
		}
	}

	offers, err := p.caches.GetOffers(ctx, ids)
	if err != nil {
		return nil, err
	}

	games := make([]domain.Game, 0, len(offers))
	for _, offer := range offers {
		games = append(games, domain.Game{
			GameID:    offer.OfferID,
			Title:     offer.DisplayName,
			LicenseID: "SinglePurchase",
		})
	}
	p.logger.Info("loaded owned games", "count", len(games), "entitlements", len(ents))
	return games, nil
}

// GetLocalGames returns the local install state, rescanning unless a scan is
// already running. The returned list supersedes any change events of this scan.
func (p *Plugin) GetLocalGames(ctx context.Context) ([]domain.LocalGame, error) {
	games, _, err := p.local.TryUpdate(ctx)
	switch {
	case errors.Is(err, domain.ErrScanInProgress):
		return p.local.LocalGames(), nil
	case err != nil:
		return nil, err
	}
	return games, nil
}

// ImportAchievements returns unlocked achievements per requested offer.
// Offers without an achievement set succeed with an empty list.
func (p *Plugin) ImportAchievements(ctx context.Context, ids []domain.OfferID) ([]domain.ItemResult[[]domain.Achievement], error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}

	answered := make(map[domain.OfferID][]domain.Achievement, len(ids))
	var fetchErr error

	sets, err := p.backend.GetAchievementSets(ctx, user.UserID)
	if err != nil {
		fetchErr = err
	} else {
		withSet := make(map[domain.OfferID]string)
		for _, id := range ids {
			set, ok := sets[id]
			switch {
			case !ok:
			case set == "":
				answered[id] = []domain.Achievement{}
			default:
				withSet[id] = set
			}
		}
		if len(withSet) > 0 {
			achievements, err := p.backend.GetAchievements(ctx, user.PersonaID, withSet)
			if err != nil {
				fetchErr = err
			}
			for id, list := range achievements {
				if _, requested := withSet[id]; requested {
					answered[id] = list
				}
			}
		}
	}
	if fetchErr == nil {
		fetchErr = fmt.Errorf("%w: no achievement data for game", domain.ErrNotFound)
	}

	results := make([]domain.ItemResult[[]domain.Achievement], 0, len(ids))
	for _, id := range ids {
		if list, ok := answered[id]; ok {
			results = append(results, domain.ItemResult[[]domain.Achievement]{GameID: id, Value: list})
			continue
		}
		results = append(results, domain.ItemResult[[]domain.Achievement]{GameID: id, Err: fetchErr})
	}
	return results, nil
}

// ImportGameTimes returns playtime per requested offer. Offers and last-played
// hints are prepared concurrently before the per-offer lookups.
func (p *Plugin) ImportGameTimes(ctx context.Context, ids []domain.OfferID) ([]domain.ItemResult[domain.GameTime], error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	defer p.flush()

	var lastPlayed map[domain.MasterTitleID]int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := p.caches.GetOffers(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		lastPlayed, err = p.backend.GetLastPlayedGames(gctx, user.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("failed to prepare game times import", "error", err)
		return nil, err
	}

	results := make([]domain.ItemResult[domain.GameTime], len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			results[i] = domain.ItemResult[domain.GameTime]{GameID: id}
			offer, ok := p.caches.Offer(id)
			if !ok {
				results[i].Err = domain.ErrCacheOutOfSync
				return
			}
			var hint *int64
			if ts, ok := lastPlayed[offer.MasterTitleID]; ok {
				hint = &ts
			}
			gt, err := p.caches.GameTime(ctx, user.UserID, id, offer.MasterTitleID, offer.MultiplayerID, hint)
			if err != nil {
				p.logger.Error("failed to import game time", "offerID", id, "error", err)
				results[i].Err = err
				return
			}
			results[i].Value = gt
		})
	}
	wg.Wait()
	return results, nil
}

// GetFriends lists the account's friends sorted by user id
func (p *Plugin) GetFriends(ctx context.Context) ([]domain.FriendInfo, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	friends, err := p.backend.GetFriends(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.FriendInfo, 0, len(friends))
	for id, name := range friends {
		result = append(result, domain.FriendInfo{UserID: id, UserName: name})
	}
	slices.SortFunc(result, func(a, b domain.FriendInfo) int { return strings.Compare(a.UserID, b.UserID) })
	return result, nil
}

// GetSubscriptions lists the subscription tiers and which one the account holds
func (p *Plugin) GetSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}
	return p.backend.GetSubscriptions(ctx, user.UserID)
}

// GetSubscriptionGames lists the catalogue of a tier by its display name
func (p *Plugin) GetSubscriptionGames(ctx context.Context, name string) ([]domain.SubscriptionGame, error) {
	if _, err := p.currentUser(); err != nil {
		return nil, err
	}
	tier, ok := origin.TierForName(name)
	if !ok {
		return nil, fmt.Errorf("%w: subscription %q", domain.ErrNotFound, name)
	}
	return p.backend.GetGamesInSubscription(ctx, tier)
}

// GetGameLibrarySettings returns tags and the hidden flag for each requested game
func (p *Plugin) GetGameLibrarySettings(ctx context.Context, ids []string) ([]domain.GameLibrarySettings, error) {
	user, err := p.currentUser()
	if err != nil {
		return nil, err
	}

	var hidden, favorites map[string]struct{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hidden, err = p.backend.GetHiddenGames(gctx, user.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		favorites, err = p.backend.GetFavoriteGames(gctx, user.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	settings := make([]domain.GameLibrarySettings, 0, len(ids))
	for _, id := range ids {
		offerID := strings.TrimSuffix(id, subscriptionSuffix)
		tags := []string{}
		if _, ok := favorites[offerID]; ok {
			tags = append(tags, favoriteTag)
		}
		_, isHidden := hidden[offerID]
		settings = append(settings, domain.GameLibrarySettings{GameID: id, Tags: tags, Hidden: isHidden})
	}
	return settings, nil
}

// LaunchGame starts a game through the vendor client
func (p *Plugin) LaunchGame(ctx context.Context, gameID string) error {
	return p.launcher.LaunchGame(ctx, gameID)
}

// InstallGame asks the vendor client to download a game
func (p *Plugin) InstallGame(ctx context.Context, gameID string) error {
	return p.launcher.InstallGame(ctx, gameID)
}

// UninstallGame opens the system uninstaller
func (p *Plugin) UninstallGame(ctx context.Context, gameID string) error {
	return p.launcher.UninstallGame(ctx, gameID)
}

// GetLocalSize returns the installed size in bytes of a game
func (p *Plugin) GetLocalSize(ctx context.Context, gameID string) (int64, error) {
	return p.local.LocalSize(gameID)
}

// Tick starts a background local scan when the last one is older than the
// refresh interval and none is running. It never blocks on the scan.
func (p *Plugin) Tick(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	if p.now().Sub(p.local.LastScan()) < p.refreshInterval {
		return
	}
	if !p.scanning.CompareAndSwap(false, true) {
		return
	}

	p.scans.Go(func() {
		defer p.scanning.Store(false)
		_, changes, err := p.local.TryUpdate(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrScanInProgress) {
				p.logger.Error("local games scan failed", "error", err)
			}
			return
		}
		p.emitChanges(changes)
	})
}

func (p *Plugin) emitChanges(changes []domain.LocalGame) {
	for _, change := range changes {
		p.emit(Event{Type: EventLocalGameChanged, LocalGame: &change})
	}
}

// Shutdown stops event delivery, waits for a running scan, persists the caches
// and releases connections
func (p *Plugin) Shutdown(ctx context.Context) error {
	var err error
	p.shutdown.Do(func() {
		p.lifecycle.Lock()
		close(p.done)
		p.lifecycle.Unlock()

		p.dispatcher.Wait()
		p.scans.Wait()
		err = p.caches.FlushIfDirty()
		p.auth.Close()
		p.logger.Info("plugin shut down")
	})
	return err
}
