package service

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/originbridge/internal/domain"
)

// FindOwnedGames fuzzy-matches query against the titles of cached offers.
// Only offers already fetched by GetOwnedGames or ImportGameTimes are searched.
func (p *Plugin) FindOwnedGames(query string) []domain.Game {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	offers := p.caches.Offers()
	titles := make([]string, len(offers))
	for i, offer := range offers {
		titles[i] = offer.DisplayName
	}

	matches := fuzzy.RankFindFold(query, titles)

	lowerQuery := strings.ToLower(query)
	type rankedGame struct {
		game  domain.Game
		score int
	}
	ranked := make([]rankedGame, 0, len(matches))
	for _, match := range matches {
		offer := offers[match.OriginalIndex]
		ranked = append(ranked, rankedGame{
			game:  domain.Game{GameID: offer.OfferID, Title: offer.DisplayName},
			score: calculateMatchScore(strings.ToLower(offer.DisplayName), lowerQuery),
		})
	}

	// Sort by score (lower is better), ties by id for stable output
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].game.GameID < ranked[j].game.GameID
	})

	results := make([]domain.Game, len(ranked))
	for i, r := range ranked {
		results[i] = r.game
	}
	p.logger.Debug("searched owned games", "query", query, "results", len(results))
	return results
}

// calculateMatchScore calculates a match score for ranking
// Lower score = better match
func calculateMatchScore(title, query string) int {
	// Exact match is best
	if title == query {
		return 0
	}

	// Prefix match is very good
	if strings.HasPrefix(title, query) {
		return 10
	}

	// Contains match is good
	if strings.Contains(title, query) {
		return 50
	}

	return 100 + fuzzy.LevenshteinDistance(query, title)
}
