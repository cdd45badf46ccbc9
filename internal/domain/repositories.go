package domain

import (
	"context"
	"encoding/json"
)

// Offer is the backend's catalogue record for an offer, kept verbatim for caching.
// Only the fields the adapter reads are decoded; Raw is what gets persisted.
type Offer struct {
	OfferID       OfferID
	DisplayName   string
	MasterTitleID MasterTitleID
	MultiplayerID string
	Raw           json.RawMessage
}

// Entitlement is one owned offer
type Entitlement struct {
	OfferID   OfferID `json:"offerId"`
	OfferType string  `json:"offerType"`
}

// AccountRepository provides identity and social data
type AccountRepository interface {
	// GetIdentity returns user id, persona id and user name of the authenticated account
	GetIdentity(ctx context.Context) (UserInfo, error)

	// GetFriends returns user id -> user name
	GetFriends(ctx context.Context, userID string) (map[string]string, error)
}

// LibraryRepository provides ownership and catalogue data
type LibraryRepository interface {
	GetEntitlements(ctx context.Context, userID string) ([]Entitlement, error)
	GetOffer(ctx context.Context, offerID OfferID) (Offer, error)

	// GetHiddenGames and GetFavoriteGames return offer ids as listed in privacy settings
	GetHiddenGames(ctx context.Context, userID string) (map[string]struct{}, error)
	GetFavoriteGames(ctx context.Context, userID string) (map[string]struct{}, error)
}

// StatsRepository provides achievements and playtime
type StatsRepository interface {
	// GetAchievementSets returns offer id -> achievement set ("" when the offer has none)
	GetAchievementSets(ctx context.Context, userID string) (map[OfferID]string, error)

	// GetAchievements returns offer id -> achievements for the requested sets
	GetAchievements(ctx context.Context, personaID string, sets map[OfferID]string) (map[OfferID][]Achievement, error)

	// GetGameTime returns minutes played and the last session end (unix seconds, nil when unknown)
	GetGameTime(ctx context.Context, userID string, masterTitleID MasterTitleID, multiplayerID string) (int64, *int64, error)

	// GetLastPlayedGames returns master title id -> last played unix seconds
	GetLastPlayedGames(ctx context.Context, userID string) (map[MasterTitleID]int64, error)
}

// SubscriptionRepository provides subscription tiers and their catalogues
type SubscriptionRepository interface {
	GetSubscriptions(ctx context.Context, userID string) ([]Subscription, error)
	GetGamesInSubscription(ctx context.Context, tier string) ([]SubscriptionGame, error)
}

// Backend combines every repository the adapter consumes
type Backend interface {
	AccountRepository
	LibraryRepository
	StatsRepository
	SubscriptionRepository
}

// Launcher dispatches launch/install/uninstall requests to the vendor client
type Launcher interface {
	LaunchGame(ctx context.Context, gameID string) error
	InstallGame(ctx context.Context, gameID string) error
	UninstallGame(ctx context.Context, gameID string) error
}
