package domain

import "strings"

// OfferID identifies a purchasable product (entitlement unit) on the backend
type OfferID = string

// MasterTitleID groups the offers of one underlying game; playtime is keyed by it
type MasterTitleID = string

// LocalGameState is a bit set describing a game on this machine
type LocalGameState int

const (
	LocalGameStateNone      LocalGameState = 0
	LocalGameStateInstalled LocalGameState = 1 << 0
	LocalGameStateRunning   LocalGameState = 1 << 1
)

// Has reports whether every flag in f is set
func (s LocalGameState) Has(f LocalGameState) bool {
	return s&f == f && f != 0
}

// String returns a readable form like "Installed|Running"
func (s LocalGameState) String() string {
	if s == LocalGameStateNone {
		return "None"
	}
	var parts []string
	if s.Has(LocalGameStateInstalled) {
		parts = append(parts, "Installed")
	}
	if s.Has(LocalGameStateRunning) {
		parts = append(parts, "Running")
	}
	return strings.Join(parts, "|")
}

// LocalGame is the host-visible local install state of one game
type LocalGame struct {
	GameID string         `json:"game_id"`
	State  LocalGameState `json:"local_game_state"`
}

// Game is an owned game as reported to the host
type Game struct {
	GameID    string `json:"game_id"`
	Title     string `json:"game_title"`
	LicenseID string `json:"license_id,omitempty"`
}

// Achievement is one unlocked achievement
type Achievement struct {
	ID         string `json:"achievement_id"`
	Name       string `json:"achievement_name"`
	UnlockTime int64  `json:"unlock_time"`
}

// GameTime is accumulated playtime for a game.
// TimePlayed is in minutes, LastPlayed is a unix timestamp in seconds.
type GameTime struct {
	GameID     string `json:"game_id"`
	TimePlayed int64  `json:"time_played"`
	LastPlayed *int64 `json:"last_played_time"`
}

// FriendInfo is a friend of the authenticated user
type FriendInfo struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Subscription describes a subscription tier and whether the user holds it
type Subscription struct {
	Name    string `json:"subscription_name"`
	Owned   bool   `json:"owned"`
	EndTime *int64 `json:"end_time,omitempty"`
}

// SubscriptionGame is a game available through a subscription tier
type SubscriptionGame struct {
	GameID    string `json:"game_id"`
	Title     string `json:"game_title"`
	StartTime *int64 `json:"start_time,omitempty"`
	EndTime   *int64 `json:"end_time,omitempty"`
}

// GameLibrarySettings carries user tags and the hidden flag for a game
type GameLibrarySettings struct {
	GameID string   `json:"game_id"`
	Tags   []string `json:"tags"`
	Hidden bool     `json:"hidden"`
}

// UserInfo identifies the authenticated account
type UserInfo struct {
	UserID    string
	PersonaID string
	UserName  string
}

// ItemResult is the per-item outcome of a batch import
type ItemResult[T any] struct {
	GameID string
	Value  T
	Err    error
}
