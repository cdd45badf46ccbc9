package origin

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/originbridge/internal/domain"
)

// Subscription tier keys and their display names
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

var tierNames = map[string]string{
	TierStandard: "EA Play",
	TierPremium:  "EA Play Pro",
}

// TierName returns the display name of a tier key
func TierName(tier string) string {
	return tierNames[tier]
}

// TierForName returns the tier key for a display name
func TierForName(name string) (string, bool) {
	for tier, n := range tierNames {
		if n == name {
			return tier, true
		}
	}
	return "", false
}

// ParseTimestamp parses backend ISO timestamps, with or without fractional
// seconds, into unix seconds. Timestamps without a zone are UTC.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}

// roundDiv divides and rounds half to even
func roundDiv(n int64, d float64) int64 {
	return int64(math.RoundToEven(float64(n) / d))
}

// MapGameTime converts a usage document to minutes played and the last session
// end in unix seconds (nil when absent).
func MapGameTime(u Usage) (int64, *int64, error) {
	if u.Total == nil {
		return 0, nil, fmt.Errorf("%w: usage without total", domain.ErrUnknownBackendResponse)
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(*u.Total), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	minutes := roundDiv(seconds, 60)

	if u.LastSessionEndTimeStamp == nil {
		return minutes, nil, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(*u.LastSessionEndTimeStamp), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	lastPlayed := roundDiv(ms, 1000)
	return minutes, &lastPlayed, nil
}

// mapAchievements keeps completed achievements, ordered by id
func mapAchievements(achievements map[string]achievementDTO) []domain.Achievement {
	result := make([]domain.Achievement, 0, len(achievements))
	for id, a := range achievements {
		if !a.Complete {
			continue
		}
		result = append(result, domain.Achievement{ID: id, Name: a.Name, UnlockTime: a.U})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// MapOffer decodes a supercat document, keeping the raw bytes
func MapOffer(raw []byte) (domain.Offer, error) {
	var dto offerDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.Offer{}, fmt.Errorf("%w: %v", domain.ErrUnknownBackendResponse, err)
	}
	if dto.OfferID == "" {
		return domain.Offer{}, fmt.Errorf("%w: offer without offerId", domain.ErrUnknownBackendResponse)
	}

	offer := domain.Offer{
		OfferID:       dto.OfferID,
		DisplayName:   dto.I18n.DisplayName,
		MasterTitleID: dto.MasterTitleID,
		Raw:           json.RawMessage(raw),
	}
	for _, p := range dto.Platforms {
		if p.MultiPlayerID != nil {
			offer.MultiplayerID = *p.MultiPlayerID
			break
		}
	}
	return offer, nil
}

// MapAchievementSets maps product id to the first achievement set override ("" when none)
func MapAchievementSets(list ProductInfoList) map[domain.OfferID]string {
	sets := make(map[domain.OfferID]string, len(list.Products))
	for _, p := range list.Products {
		set := ""
		for _, sw := range p.Software {
			if sw.AchievementSetOverride != nil {
				set = strings.TrimSpace(*sw.AchievementSetOverride)
				break
			}
		}
		sets[p.ProductID] = set
	}
	return sets
}

// SplitPayload turns a ';'-separated privacy payload into a set
func SplitPayload(settings PrivacySettings) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, s := range settings.Settings {
		for _, id := range strings.Split(s.Payload, ";") {
			if id = strings.TrimSpace(id); id != "" {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

// optionalTimestamp parses s, returning nil for empty or malformed values
func optionalTimestamp(s string) *int64 {
	if s == "" {
		return nil
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return nil
	}
	return &ts
}
