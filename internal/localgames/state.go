package localgames

import (
	"sort"
	"strings"

	"github.com/mmcdole/originbridge/internal/domain"
)

// Snapshot maps game id to its local state after one scan
type Snapshot map[string]domain.LocalGameState

// installingStates count as installed unless the manifest is still on its initial download
var installingStates = map[State]bool{
	StateInstalling:   true,
	StateInitializing: true,
	StateTransferring: true,
	StateEnqueued:     true,
	StatePostInstall:  true,
}

// IsInstalled reports whether the manifest describes an installed game
func IsInstalled(m Manifest) bool {
	switch {
	case m.State == StateReadyToStart && m.PreviousState == StateCompleted:
		return true
	case m.AlreadyCompleted && m.State != StatePostInstall:
		return true
	case installingStates[m.State] && !m.InitialDownload:
		return true
	}
	return false
}

// IsRunning reports whether any executable path lies under the manifest's install path
func IsRunning(m Manifest, exePaths []string) bool {
	if m.InstallPath == "" {
		return false
	}
	for _, exe := range exePaths {
		if strings.Contains(exe, m.InstallPath) {
			return true
		}
	}
	return false
}

// Classify derives a game's local state from its manifest and the running executables
func Classify(m Manifest, exePaths []string) domain.LocalGameState {
	state := domain.LocalGameStateNone
	if IsInstalled(m) {
		state |= domain.LocalGameStateInstalled
	}
	if IsRunning(m, exePaths) {
		state |= domain.LocalGameStateRunning
	}
	return state
}

// ClassifyAll builds a snapshot. A game id listed by several manifests keeps the last one.
func ClassifyAll(manifests []Manifest, exePaths []string) Snapshot {
	snap := make(Snapshot, len(manifests))
	for _, m := range manifests {
		snap[m.GameID] = Classify(m, exePaths)
	}
	return snap
}

// Games returns the snapshot as a list sorted by game id
func (s Snapshot) Games() []domain.LocalGame {
	games := make([]domain.LocalGame, 0, len(s))
	for id, state := range s {
		games = append(games, domain.LocalGame{GameID: id, State: state})
	}
	sortGames(games)
	return games
}

// ComputeChanges lists what a host must be told to move from before to after.
// Removed games are reported as None; added and changed games carry their new state.
func ComputeChanges(before, after Snapshot) []domain.LocalGame {
	var changes []domain.LocalGame

	for id := range before {
		if _, ok := after[id]; !ok {
			changes = append(changes, domain.LocalGame{GameID: id, State: domain.LocalGameStateNone})
		}
	}
	for id, state := range after {
		if prev, ok := before[id]; !ok || prev != state {
			changes = append(changes, domain.LocalGame{GameID: id, State: state})
		}
	}

	sortGames(changes)
	return changes
}

func sortGames(games []domain.LocalGame) {
	sort.Slice(games, func(i, j int) bool { return games[i].GameID < games[j].GameID })
}
