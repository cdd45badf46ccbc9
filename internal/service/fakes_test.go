package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/log"
	"github.com/mmcdole/originbridge/internal/origin"
	"github.com/mmcdole/originbridge/internal/store"
)

// fakeBackend is an in-memory domain.Backend with call counters
type fakeBackend struct {
	mu sync.Mutex

	user         domain.UserInfo
	entitlements []domain.Entitlement
	entErr       error
	offers       map[domain.OfferID]string // offer id -> display name
	offerErrs    map[domain.OfferID]error
	offerCalls   map[domain.OfferID]int
	sets         map[domain.OfferID]string
	achievements map[domain.OfferID][]domain.Achievement
	achErr       error
	usage        map[domain.MasterTitleID]int64
	lastSession  map[domain.MasterTitleID]*int64
	usageCalls   atomic.Int32
	lastPlayed   map[domain.MasterTitleID]int64
	friends      map[string]string
	hidden       map[string]struct{}
	favorites    map[string]struct{}
	subs         []domain.Subscription
	vault        map[string][]domain.SubscriptionGame
}

var _ domain.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user:         domain.UserInfo{UserID: "100", PersonaID: "200", UserName: "tester"},
		offers:       make(map[domain.OfferID]string),
		offerErrs:    make(map[domain.OfferID]error),
		offerCalls:   make(map[domain.OfferID]int),
		sets:         make(map[domain.OfferID]string),
		achievements: make(map[domain.OfferID][]domain.Achievement),
		usage:        make(map[domain.MasterTitleID]int64),
		lastSession:  make(map[domain.MasterTitleID]*int64),
		lastPlayed:   make(map[domain.MasterTitleID]int64),
		friends:      make(map[string]string),
		hidden:       make(map[string]struct{}),
		favorites:    make(map[string]struct{}),
		vault:        make(map[string][]domain.SubscriptionGame),
	}
}

// offerJSON builds a supercat document whose master title id is "MT-" + id
func offerJSON(id, name string) string {
	return fmt.Sprintf(`{"offerId":%q,"masterTitleId":"MT-%s","i18n":{"displayName":%q},"platforms":[{"multiPlayerId":null}]}`, id, id, name)
}

func (f *fakeBackend) addOffer(id, name string) {
	f.offers[id] = name
}

func (f *fakeBackend) GetIdentity(ctx context.Context) (domain.UserInfo, error) {
	return f.user, nil
}

func (f *fakeBackend) GetFriends(ctx context.Context, userID string) (map[string]string, error) {
	return f.friends, nil
}

func (f *fakeBackend) GetEntitlements(ctx context.Context, userID string) ([]domain.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entErr != nil {
		return nil, f.entErr
	}
	return f.entitlements, nil
}

func (f *fakeBackend) GetOffer(ctx context.Context, offerID domain.OfferID) (domain.Offer, error) {
	f.mu.Lock()
	f.offerCalls[offerID]++
	name, ok := f.offers[offerID]
	err := f.offerErrs[offerID]
	f.mu.Unlock()

	if err != nil {
		return domain.Offer{}, err
	}
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return origin.MapOffer([]byte(offerJSON(offerID, name)))
}

func (f *fakeBackend) GetHiddenGames(ctx context.Context, userID string) (map[string]struct{}, error) {
	return f.hidden, nil
}

func (f *fakeBackend) GetFavoriteGames(ctx context.Context, userID string) (map[string]struct{}, error) {
	return f.favorites, nil
}

func (f *fakeBackend) GetAchievementSets(ctx context.Context, userID string) (map[domain.OfferID]string, error) {
	return f.sets, nil
}

func (f *fakeBackend) GetAchievements(ctx context.Context, personaID string, sets map[domain.OfferID]string) (map[domain.OfferID][]domain.Achievement, error) {
	if f.achErr != nil {
		return nil, f.achErr
	}
	out := make(map[domain.OfferID][]domain.Achievement)
	for id := range sets {
		if list, ok := f.achievements[id]; ok {
			out[id] = list
		}
	}
	return out, nil
}

func (f *fakeBackend) GetGameTime(ctx context.Context, userID string, masterTitleID domain.MasterTitleID, multiplayerID string) (int64, *int64, error) {
	f.usageCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	minutes, ok := f.usage[masterTitleID]
	if !ok {
		return 0, nil, domain.ErrNotFound
	}
	return minutes, f.lastSession[masterTitleID], nil
}

func (f *fakeBackend) GetLastPlayedGames(ctx context.Context, userID string) (map[domain.MasterTitleID]int64, error) {
	return f.lastPlayed, nil
}

func (f *fakeBackend) GetSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return f.subs, nil
}

func (f *fakeBackend) GetGamesInSubscription(ctx context.Context, tier string) ([]domain.SubscriptionGame, error) {
	games, ok := f.vault[tier]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return games, nil
}

// fakeAuth stands in for origin.AuthClient
type fakeAuth struct {
	authenticated atomic.Bool
	err           error
	onAuthLost    func()
	onCookies     func(map[string]string)
	closed        atomic.Bool
}

func (a *fakeAuth) Authenticate(ctx context.Context, cookies map[string]string) error {
	if a.err != nil {
		return a.err
	}
	a.authenticated.Store(true)
	return nil
}

func (a *fakeAuth) IsAuthenticated() bool { return a.authenticated.Load() }

func (a *fakeAuth) SetAuthLostCallback(fn func()) { a.onAuthLost = fn }

func (a *fakeAuth) SetCookiesUpdatedCallback(fn func(map[string]string)) { a.onCookies = fn }

func (a *fakeAuth) Close() { a.closed.Store(true) }

// fakeLocal stands in for localgames.Tracker
type fakeLocal struct {
	mu       sync.Mutex
	games    []domain.LocalGame
	changes  []domain.LocalGame
	lastScan time.Time
	updates  atomic.Int32
	tryErr   error
	sizes    map[string]int64
}

func (l *fakeLocal) Update(ctx context.Context) ([]domain.LocalGame, []domain.LocalGame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates.Add(1)
	l.lastScan = time.Now()
	changes := l.changes
	l.changes = nil
	return l.games, changes, nil
}

func (l *fakeLocal) TryUpdate(ctx context.Context) ([]domain.LocalGame, []domain.LocalGame, error) {
	if l.tryErr != nil {
		return nil, nil, l.tryErr
	}
	return l.Update(ctx)
}

func (l *fakeLocal) LocalGames() []domain.LocalGame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.games
}

func (l *fakeLocal) LastScan() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastScan
}

func (l *fakeLocal) LocalSize(gameID string) (int64, error) {
	size, ok := l.sizes[gameID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return size, nil
}

// fakeLauncher records dispatched requests
type fakeLauncher struct {
	mu    sync.Mutex
	calls []string
}

func (l *fakeLauncher) record(kind, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, kind+":"+id)
	return nil
}

func (l *fakeLauncher) LaunchGame(ctx context.Context, id string) error    { return l.record("launch", id) }
func (l *fakeLauncher) InstallGame(ctx context.Context, id string) error   { return l.record("install", id) }
func (l *fakeLauncher) UninstallGame(ctx context.Context, id string) error { return l.record("uninstall", id) }

// harness bundles a Plugin with its fakes
type harness struct {
	plugin   *Plugin
	backend  *fakeBackend
	auth     *fakeAuth
	local    *fakeLocal
	launcher *fakeLauncher
	store    *store.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cache, err := store.NewCache("", "")
	require.NoError(t, err)
	return newHarnessWithStore(t, cache)
}

func newHarnessWithStore(t *testing.T, cache *store.Cache) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		auth:     &fakeAuth{},
		local:    &fakeLocal{sizes: make(map[string]int64)},
		launcher: &fakeLauncher{},
		store:    cache,
	}
	h.plugin = NewPlugin(Options{
		Auth:     h.auth,
		Backend:  h.backend,
		Store:    cache,
		Local:    h.local,
		Launcher: h.launcher,
		Logger:   log.NullLogger(),
	})
	t.Cleanup(func() {
		h.plugin.Shutdown(context.Background())
		cache.Close()
	})
	return h
}

// signIn authenticates the plugin against the fake backend
func (h *harness) signIn(t *testing.T) {
	t.Helper()
	_, err := h.plugin.Authenticate(context.Background(), map[string]string{"sid": "abc"})
	require.NoError(t, err)
}

// storedBucket decodes a persisted cache bucket
func storedBucket[T any](t *testing.T, cache domain.PersistentCache, key string) T {
	t.Helper()
	var out T
	data, ok := cache.Get(key)
	require.True(t, ok, "bucket %s not stored", key)
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
