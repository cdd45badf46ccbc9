package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/log"
)

type recorder struct {
	uris []string
	err  error
}

func (r *recorder) open(uri string) error {
	r.uris = append(r.uris, uri)
	return r.err
}

func newTestLauncher(rec *recorder, handler bool) *Launcher {
	return New(log.NullLogger(),
		WithOpener(rec.open),
		WithHandlerCheck(func() bool { return handler }),
	)
}

func TestLauncher_URIs(t *testing.T) {
	tests := []struct {
		name    string
		handler bool
		call    func(*Launcher) error
		want    string
	}{
		{
			name:    "launch",
			handler: true,
			call:    func(l *Launcher) error { return l.LaunchGame(context.Background(), "Origin.OFR.50.0001") },
			want:    "origin2://game/launch?offerIds=Origin.OFR.50.0001&autoDownload=true",
		},
		{
			name:    "install",
			handler: true,
			call:    func(l *Launcher) error { return l.InstallGame(context.Background(), "DR:1") },
			want:    "origin2://game/download?offerId=DR%3A1",
		},
		{
			name:    "launch without handler",
			handler: false,
			call:    func(l *Launcher) error { return l.LaunchGame(context.Background(), "X") },
			want:    clientDownloadURL,
		},
		{
			name:    "install without handler",
			handler: false,
			call:    func(l *Launcher) error { return l.InstallGame(context.Background(), "X") },
			want:    clientDownloadURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			require.NoError(t, tt.call(newTestLauncher(rec, tt.handler)))
			assert.Equal(t, []string{tt.want}, rec.uris)
		})
	}
}

func TestLauncher_OpenError(t *testing.T) {
	rec := &recorder{err: errors.New("no xdg-open")}
	err := newTestLauncher(rec, true).LaunchGame(context.Background(), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.err)
}

func TestLauncher_Uninstall(t *testing.T) {
	called := false
	l := New(log.NullLogger(), WithUninstaller(func() error {
		called = true
		return domain.ErrNotSupported
	}))

	err := l.UninstallGame(context.Background(), "X")
	assert.True(t, called)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}
