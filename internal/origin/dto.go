package origin

import "encoding/json"

// identityResponse is /proxy/identity/pids/me
type identityResponse struct {
	Pid struct {
		PidID json.Number `json:"pidId"`
	} `json:"pid"`
}

// Users is the atom users document, used for personas and friends
type Users struct {
	Users []User `xml:"user"`
}

// User is one atom user entry
type User struct {
	UserID    string `xml:"userId"`
	PersonaID string `xml:"personaId"`
	EAID      string `xml:"EAID"`
}

type entitlementsResponse struct {
	Entitlements *[]entitlementDTO `json:"entitlements"`
}

type entitlementDTO struct {
	OfferID   string `json:"offerId"`
	OfferType string `json:"offerType"`
}

// offerDTO holds the supercat fields the bridge reads
type offerDTO struct {
	OfferID string `json:"offerId"`
	I18n    struct {
		DisplayName string `json:"displayName"`
	} `json:"i18n"`
	MasterTitleID string `json:"masterTitleId"`
	Platforms     []struct {
		MultiPlayerID *string `json:"multiPlayerId"`
	} `json:"platforms"`
}

// ProductInfoList is the owned games document carrying achievement sets
type ProductInfoList struct {
	Products []ProductInfo `xml:"productInfo"`
}

// ProductInfo is one owned product
type ProductInfo struct {
	ProductID     string     `xml:"productId"`
	MasterTitleID string     `xml:"masterTitleId"`
	Software      []Software `xml:"softwareList>software"`
}

// Software is one platform build of a product
type Software struct {
	Platform               string  `xml:"softwarePlatform,attr"`
	AchievementSetOverride *string `xml:"achievementSetOverride"`
}

// achievementSetDTO is one entry of the persona achievements document
type achievementSetDTO struct {
	Name         string                    `json:"name"`
	Platform     string                    `json:"platform"`
	Achievements map[string]achievementDTO `json:"achievements"`
}

type achievementDTO struct {
	Complete bool   `json:"complete"`
	U        int64  `json:"u"`
	Name     string `json:"name"`
}

// Usage is the game usage document
type Usage struct {
	GameID                  string  `xml:"gameId"`
	Total                   *string `xml:"total"`
	MultiplayerID           string  `xml:"MultiplayerId"`
	LastSession             string  `xml:"lastSession"`
	LastSessionEndTimeStamp *string `xml:"lastSessionEndTimeStamp"`
}

// LastPlayedGames is the last played document
type LastPlayedGames struct {
	UserID     string       `xml:"userId"`
	LastPlayed []LastPlayed `xml:"lastPlayed"`
}

// LastPlayed is one last played entry
type LastPlayed struct {
	MasterTitleID string `xml:"masterTitleId"`
	Timestamp     string `xml:"timestamp"`
}

// PrivacySettings is the privacy settings document for one category
type PrivacySettings struct {
	Settings []PrivacySetting `xml:"privacySetting"`
}

// PrivacySetting carries a ';'-separated list of offer ids
type PrivacySetting struct {
	UserID   string `xml:"userId"`
	Category string `xml:"category"`
	Payload  string `xml:"payload"`
}

type subscriptionGroupResponse struct {
	SubscriptionURI []string `json:"subscriptionUri"`
}

type subscriptionResponse struct {
	Subscription struct {
		Status            string `json:"status"`
		SubscriptionLevel string `json:"subscriptionLevel"`
		NextBillingDate   string `json:"nextBillingDate"`
		EndDate           string `json:"endDate"`
	} `json:"Subscription"`
}

type vaultResponse struct {
	Game []struct {
		OfferID     string `json:"offerId"`
		DisplayName string `json:"displayName"`
		StartDate   string `json:"startDate"`
		EndDate     string `json:"endDate"`
	} `json:"game"`
}
