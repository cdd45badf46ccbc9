package origin

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/mmcdole/originbridge/internal/domain"
)

// Getter issues authorized GETs. *AuthClient implements it.
type Getter interface {
	Get(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error)
}

// Endpoints are the backend hosts the client talks to
type Endpoints struct {
	API          []string // one is picked at random per request
	Gateway      string
	Achievements string
}

// DefaultEndpoints returns the production hosts
func DefaultEndpoints() Endpoints {
	return Endpoints{
		API: []string{
			"https://api1.origin.com",
			"https://api2.origin.com",
			"https://api3.origin.com",
			"https://api4.origin.com",
		},
		Gateway:      "https://gateway.ea.com",
		Achievements: "https://achievements.gameservices.ea.com",
	}
}

// Client implements domain.Backend on top of an authorized Getter
type Client struct {
	getter    Getter
	endpoints Endpoints
	locale    string
	logger    *slog.Logger
}

var _ domain.Backend = (*Client)(nil)

// NewClient creates a backend client
func NewClient(getter Getter, endpoints Endpoints, locale string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if locale == "" {
		locale = "en_US"
	}
	return &Client{getter: getter, endpoints: endpoints, locale: locale, logger: logger}
}

func (c *Client) apiHost() string {
	return c.endpoints.API[rand.IntN(len(c.endpoints.API))]
}

// getXML fetches rawURL and decodes an XML document into dest
func (c *Client) getXML(ctx context.Context, rawURL string, dest any, opts ...RequestOption) error {
	body, err := c.getter.Get(ctx, rawURL, opts...)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, dest); err != nil {
		c.logger.Error("can not parse backend response", "url", rawURL, "error", err, "body", string(body))
		return fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	return nil
}

// getJSON fetches rawURL and decodes a JSON document into dest
func (c *Client) getJSON(ctx context.Context, rawURL string, dest any, opts ...RequestOption) error {
	body, err := c.getter.Get(ctx, rawURL, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		c.logger.Error("can not parse backend response", "url", rawURL, "error", err, "body", string(body))
		return fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	return nil
}

func (c *Client) unknownResponse(rawURL, reason string) error {
	c.logger.Error("unexpected backend response", "url", rawURL, "reason", reason)
	return fmt.Errorf("%w: %s", domain.ErrUnknownBackendResponse, reason)
}

// === Account ===

func (c *Client) GetIdentity(ctx context.Context) (domain.UserInfo, error) {
	pidURL := c.endpoints.Gateway + "/proxy/identity/pids/me"
	var ident identityResponse
	if err := c.getJSON(ctx, pidURL, &ident); err != nil {
		return domain.UserInfo{}, err
	}
	userID := ident.Pid.PidID.String()
	if userID == "" {
		return domain.UserInfo{}, c.unknownResponse(pidURL, "missing pidId")
	}

	usersURL := fmt.Sprintf("%s/atom/users?userIds=%s", c.apiHost(), url.QueryEscape(userID))
	var users Users
	if err := c.getXML(ctx, usersURL, &users); err != nil {
		return domain.UserInfo{}, err
	}
	if len(users.Users) == 0 || users.Users[0].PersonaID == "" {
		return domain.UserInfo{}, c.unknownResponse(usersURL, "missing persona")
	}

	return domain.UserInfo{
		UserID:    userID,
		PersonaID: users.Users[0].PersonaID,
		UserName:  users.Users[0].EAID,
	}, nil
}

func (c *Client) GetFriends(ctx context.Context, userID string) (map[string]string, error) {
	u := fmt.Sprintf("%s/atom/users/%s/other/%s/friends?page=0", c.apiHost(), userID, userID)
	var users Users
	if err := c.getXML(ctx, u, &users); err != nil {
		return nil, err
	}

	friends := make(map[string]string, len(users.Users))
	for _, user := range users.Users {
		if user.UserID == "" {
			return nil, c.unknownResponse(u, "friend without userId")
		}
		friends[user.UserID] = user.EAID
	}
	return friends, nil
}

// === Library ===

func (c *Client) GetEntitlements(ctx context.Context, userID string) ([]domain.Entitlement, error) {
	u := fmt.Sprintf("%s/ecommerce2/consolidatedentitlements/%s?machine_hash=1", c.apiHost(), userID)
	var resp entitlementsResponse
	err := c.getJSON(ctx, u, &resp, WithHeader("Accept", "application/vnd.origin.v3+json; x-cache/force-write"))
	if err != nil {
		return nil, err
	}
	if resp.Entitlements == nil {
		return nil, c.unknownResponse(u, "missing entitlements")
	}

	entitlements := make([]domain.Entitlement, 0, len(*resp.Entitlements))
	for _, e := range *resp.Entitlements {
		entitlements = append(entitlements, domain.Entitlement{OfferID: e.OfferID, OfferType: e.OfferType})
	}
	return entitlements, nil
}

func (c *Client) GetOffer(ctx context.Context, offerID domain.OfferID) (domain.Offer, error) {
	u := fmt.Sprintf("%s/ecommerce2/public/supercat/%s/%s", c.apiHost(), url.PathEscape(offerID), c.locale)
	body, err := c.getter.Get(ctx, u)
	if err != nil {
		return domain.Offer{}, err
	}
	offer, err := MapOffer(body)
	if err != nil {
		c.logger.Error("can not parse backend response", "url", u, "error", err, "body", string(body))
		return domain.Offer{}, err
	}
	return offer, nil
}

func (c *Client) GetHiddenGames(ctx context.Context, userID string) (map[string]struct{}, error) {
	return c.getPrivacyPayload(ctx, userID, "HIDDENGAMES")
}

func (c *Client) GetFavoriteGames(ctx context.Context, userID string) (map[string]struct{}, error) {
	return c.getPrivacyPayload(ctx, userID, "FAVORITEGAMES")
}

func (c *Client) getPrivacyPayload(ctx context.Context, userID, category string) (map[string]struct{}, error) {
	u := fmt.Sprintf("%s/atom/users/%s/privacySettings/%s", c.apiHost(), userID, category)
	var settings PrivacySettings
	if err := c.getXML(ctx, u, &settings); err != nil {
		return nil, err
	}
	return SplitPayload(settings), nil
}

// === Stats ===

func (c *Client) GetAchievementSets(ctx context.Context, userID string) (map[domain.OfferID]string, error) {
	u := fmt.Sprintf("%s/atom/users/%s/other/%s/games", c.apiHost(), userID, userID)
	var list ProductInfoList
	if err := c.getXML(ctx, u, &list); err != nil {
		return nil, err
	}
	return MapAchievementSets(list), nil
}

func (c *Client) achievementsURL(personaID, set string) string {
	u := fmt.Sprintf("%s/achievements/personas/%s", c.endpoints.Achievements, personaID)
	if set != "" {
		u += "/" + url.PathEscape(set)
	}
	return u + "/all"
}

func (c *Client) achievementsQuery() RequestOption {
	return WithQuery(url.Values{"lang": {c.locale}, "metadata": {"true"}})
}

// GetAchievements reads every set from the persona's combined document. Sets
// missing from it are fetched one by one.
func (c *Client) GetAchievements(ctx context.Context, personaID string, sets map[domain.OfferID]string) (map[domain.OfferID][]domain.Achievement, error) {
	var all map[string]achievementSetDTO
	if err := c.getJSON(ctx, c.achievementsURL(personaID, ""), &all, c.achievementsQuery()); err != nil {
		return nil, err
	}

	result := make(map[domain.OfferID][]domain.Achievement, len(sets))
	for offerID, set := range sets {
		if s, ok := all[set]; ok {
			result[offerID] = mapAchievements(s.Achievements)
			continue
		}

		achievements, err := c.getAchievementSet(ctx, personaID, set)
		if err != nil {
			return nil, err
		}
		result[offerID] = achievements
	}
	return result, nil
}

// getAchievementSet fetches one set explicitly. The answer is either keyed by
// set name or is the bare achievements map.
func (c *Client) getAchievementSet(ctx context.Context, personaID, set string) ([]domain.Achievement, error) {
	u := c.achievementsURL(personaID, set)
	body, err := c.getter.Get(ctx, u, c.achievementsQuery())
	if err != nil {
		return nil, err
	}

	var keyed map[string]achievementSetDTO
	if err := json.Unmarshal(body, &keyed); err == nil {
		if s, ok := keyed[set]; ok {
			return mapAchievements(s.Achievements), nil
		}
	}

	var bare map[string]achievementDTO
	if err := json.Unmarshal(body, &bare); err != nil {
		c.logger.Error("can not parse backend response", "url", u, "error", err, "body", string(body))
		return nil, fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	return mapAchievements(bare), nil
}

func (c *Client) GetGameTime(ctx context.Context, userID string, masterTitleID domain.MasterTitleID, multiplayerID string) (int64, *int64, error) {
	u := fmt.Sprintf("%s/atom/users/%s/games/%s/usage", c.apiHost(), userID, url.PathEscape(masterTitleID))

	// Without the multiplayer id the backend reports zero usage for such titles
	var opts []RequestOption
	if multiplayerID != "" {
		opts = append(opts, WithHeader("Multiplayerid", multiplayerID))
	}

	var usage Usage
	if err := c.getXML(ctx, u, &usage, opts...); err != nil {
		return 0, nil, err
	}
	minutes, lastPlayed, err := MapGameTime(usage)
	if err != nil {
		c.logger.Error("can not parse game usage", "url", u, "error", err)
		return 0, nil, err
	}
	return minutes, lastPlayed, nil
}

func (c *Client) GetLastPlayedGames(ctx context.Context, userID string) (map[domain.MasterTitleID]int64, error) {
	u := fmt.Sprintf("%s/atom/users/%s/games/lastplayed", c.apiHost(), userID)
	var doc LastPlayedGames
	if err := c.getXML(ctx, u, &doc); err != nil {
		return nil, err
	}

	result := make(map[domain.MasterTitleID]int64, len(doc.LastPlayed))
	for _, lp := range doc.LastPlayed {
		ts, err := ParseTimestamp(lp.Timestamp)
		if err != nil {
			// One bad record leaves the others usable
			c.logger.Error("can not parse last played timestamp", "url", u, "masterTitleID", lp.MasterTitleID, "error", err)
			continue
		}
		result[lp.MasterTitleID] = ts
	}
	return result, nil
}

// === Subscriptions ===

// GetSubscriptions lists every tier, marking the user's active one as owned
func (c *Client) GetSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{
		{Name: TierName(TierStandard)},
		{Name: TierName(TierPremium)},
	}

	groupURL := fmt.Sprintf("%s/proxy/subscription/pids/%s/subscriptionsv2/groups/%s",
		c.endpoints.Gateway, userID, url.PathEscape("Origin Membership"))
	var group subscriptionGroupResponse
	if err := c.getJSON(ctx, groupURL, &group); err != nil {
		// No membership history at all
		if errors.Is(err, domain.ErrNotFound) {
			return subs, nil
		}
		return nil, err
	}
	if len(group.SubscriptionURI) == 0 {
		return subs, nil
	}

	subURL := fmt.Sprintf("%s/proxy/subscription/pids/%s%s", c.endpoints.Gateway, userID, group.SubscriptionURI[0])
	var sub subscriptionResponse
	if err := c.getJSON(ctx, subURL, &sub, WithQuery(url.Values{"include": {"items"}})); err != nil {
		return nil, err
	}
	if !strings.EqualFold(sub.Subscription.Status, "enabled") {
		return subs, nil
	}

	name := TierName(strings.ToLower(sub.Subscription.SubscriptionLevel))
	if name == "" {
		return nil, c.unknownResponse(subURL, "unknown subscription level "+sub.Subscription.SubscriptionLevel)
	}
	end := optionalTimestamp(sub.Subscription.NextBillingDate)
	if end == nil {
		end = optionalTimestamp(sub.Subscription.EndDate)
	}
	for i := range subs {
		if subs[i].Name == name {
			subs[i].Owned = true
			subs[i].EndTime = end
		}
	}
	return subs, nil
}

// GetGamesInSubscription lists the catalogue of a tier
func (c *Client) GetGamesInSubscription(ctx context.Context, tier string) ([]domain.SubscriptionGame, error) {
	u := fmt.Sprintf("%s/ecommerce2/vaultInfo/%s/tiers/%s", c.apiHost(), url.PathEscape("Origin Membership"), url.PathEscape(tier))
	var vault vaultResponse
	if err := c.getJSON(ctx, u, &vault); err != nil {
		return nil, err
	}

	games := make([]domain.SubscriptionGame, 0, len(vault.Game))
	for _, g := range vault.Game {
		games = append(games, domain.SubscriptionGame{
			GameID:    g.OfferID,
			Title:     g.DisplayName,
			StartTime: optionalTimestamp(g.StartDate),
			EndTime:   optionalTimestamp(g.EndDate),
		})
	}
	return games, nil
}
