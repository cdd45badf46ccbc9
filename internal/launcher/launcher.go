package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/mmcdole/originbridge/internal/domain"
)

const (
	launchURIFormat  = "origin2://game/launch?offerIds=%s&autoDownload=true"
	installURIFormat = "origin2://game/download?offerId=%s"

	// clientDownloadURL is opened instead when no origin2 handler is registered
	clientDownloadURL = "https://www.origin.com/download"
)

// Opener hands a URI to the system default handler
type Opener func(uri string) error

// Launcher dispatches launch and install requests to the vendor client
// through its URI scheme
type Launcher struct {
	open       Opener
	uninstall  func() error
	hasHandler func() bool
	logger     *slog.Logger
}

var _ domain.Launcher = (*Launcher)(nil)

// Option customizes a Launcher
type Option func(*Launcher)

// WithOpener replaces the system default opener
func WithOpener(open Opener) Option {
	return func(l *Launcher) { l.open = open }
}

// WithHandlerCheck replaces the origin2 handler detection
func WithHandlerCheck(check func() bool) Option {
	return func(l *Launcher) { l.hasHandler = check }
}

// WithUninstaller replaces the platform uninstall action
func WithUninstaller(fn func() error) Option {
	return func(l *Launcher) { l.uninstall = fn }
}

// New creates a Launcher using the platform defaults
func New(logger *slog.Logger, opts ...Option) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Launcher{
		open:       openDefault,
		uninstall:  openUninstaller,
		hasHandler: IsURIHandlerInstalled,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LaunchGame starts the game through the vendor client, downloading it first if needed
func (l *Launcher) LaunchGame(ctx context.Context, gameID string) error {
	return l.dispatch(fmt.Sprintf(launchURIFormat, url.QueryEscape(gameID)))
}

// InstallGame asks the vendor client to download the game
func (l *Launcher) InstallGame(ctx context.Context, gameID string) error {
	return l.dispatch(fmt.Sprintf(installURIFormat, url.QueryEscape(gameID)))
}

// UninstallGame opens the system's program removal dialog
func (l *Launcher) UninstallGame(ctx context.Context, gameID string) error {
	l.logger.Info("opening uninstaller", "gameID", gameID, "os", runtime.GOOS)
	return l.uninstall()
}

func (l *Launcher) dispatch(uri string) error {
	if !l.hasHandler() {
		l.logger.Warn("origin2 handler not installed, opening client download page", "uri", uri)
		uri = clientDownloadURL
	}
	l.logger.Info("opening uri", "uri", uri)
	if err := l.open(uri); err != nil {
		return fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return nil
}

// openDefault opens the URI using the system default handler
func openDefault(uri string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", uri)
	default:
		// Linux and other Unix-like systems
		cmd = exec.Command("xdg-open", uri)
	}

	return cmd.Start()
}
