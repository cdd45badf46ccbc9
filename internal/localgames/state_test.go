package localgames

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmcdole/originbridge/internal/domain"
)

const (
	none      = domain.LocalGameStateNone
	installed = domain.LocalGameStateInstalled
	running   = domain.LocalGameStateRunning
)

func TestIsInstalled(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
		want bool
	}{
		{"ready to start after completed", Manifest{State: StateReadyToStart, PreviousState: StateCompleted}, true},
		{"ready to start after transfer", Manifest{State: StateReadyToStart, PreviousState: StateTransferring}, false},
		{"already completed", Manifest{State: StatePaused, AlreadyCompleted: true}, true},
		{"already completed but post install", Manifest{State: StatePostInstall, AlreadyCompleted: true}, true},
		{"already completed post install on initial download", Manifest{State: StatePostInstall, AlreadyCompleted: true, InitialDownload: true}, false},
		{"installing update", Manifest{State: StateInstalling}, true},
		{"initializing update", Manifest{State: StateInitializing}, true},
		{"transferring update", Manifest{State: StateTransferring}, true},
		{"enqueued update", Manifest{State: StateEnqueued}, true},
		{"post install update", Manifest{State: StatePostInstall}, true},
		{"initial download transferring", Manifest{State: StateTransferring, InitialDownload: true}, false},
		{"paused", Manifest{State: StatePaused}, false},
		{"invalid", Manifest{}, false},
		{"completed alone", Manifest{State: StateCompleted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInstalled(tt.m))
		})
	}
}

func TestClassify(t *testing.T) {
	m := Manifest{
		GameID:        "ABC",
		State:         StateReadyToStart,
		PreviousState: StateCompleted,
		InstallPath:   `C:\Games\ABC\`,
	}

	assert.Equal(t, installed, Classify(m, nil))
	assert.Equal(t, installed|running, Classify(m, []string{`C:\Windows\explorer.exe`, `C:\Games\ABC\bin\abc.exe`}))
	assert.Equal(t, running, Classify(Manifest{InstallPath: "/games/x"}, []string{"/games/x/run"}))
	assert.Equal(t, none, Classify(Manifest{}, []string{"/anything"}))
}

func TestComputeChanges(t *testing.T) {
	before := Snapshot{"removed": installed, "same": installed, "changed": installed}
	after := Snapshot{"same": installed, "changed": installed | running, "added": none}

	assert.Equal(t, []domain.LocalGame{
		{GameID: "added", State: none},
		{GameID: "changed", State: installed | running},
		{GameID: "removed", State: none},
	}, ComputeChanges(before, after))
}

func TestComputeChanges_Identical(t *testing.T) {
	s := Snapshot{"a": installed, "b": running}
	assert.Empty(t, ComputeChanges(s, s))
	assert.Empty(t, ComputeChanges(Snapshot{}, Snapshot{}))
}

func TestComputeChanges_ApplyingReproducesNew(t *testing.T) {
	before := Snapshot{"a": installed, "b": running, "c": installed | running}
	after := Snapshot{"b": installed, "c": installed | running, "d": running}

	applied := Snapshot{}
	for id, st := range before {
		applied[id] = st
	}
	for _, c := range ComputeChanges(before, after) {
		if _, ok := after[c.GameID]; !ok {
			assert.Equal(t, none, c.State)
			delete(applied, c.GameID)
			continue
		}
		applied[c.GameID] = c.State
	}
	assert.Equal(t, after, applied)
}

func TestSnapshotGames_SortedByID(t *testing.T) {
	games := Snapshot{"b": installed, "a": none}.Games()
	assert.Equal(t, []domain.LocalGame{{GameID: "a", State: none}, {GameID: "b", State: installed}}, games)
}
