package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mmcdole/originbridge/internal/config"
	"github.com/mmcdole/originbridge/internal/domain"
	"github.com/mmcdole/originbridge/internal/launcher"
	"github.com/mmcdole/originbridge/internal/localgames"
	"github.com/mmcdole/originbridge/internal/log"
	"github.com/mmcdole/originbridge/internal/metrics"
	"github.com/mmcdole/originbridge/internal/origin"
	"github.com/mmcdole/originbridge/internal/process"
	"github.com/mmcdole/originbridge/internal/service"
	"github.com/mmcdole/originbridge/internal/store"
	"github.com/mmcdole/originbridge/internal/tracing"
)

// Version is set at build time via -ldflags
var Version = "dev"

// tickInterval is how often the host loop drives Plugin.Tick
const tickInterval = time.Second

var stdin = bufio.NewReader(os.Stdin)

func main() {
	var showVersion, scanOnly bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&scanOnly, "scan", false, "print local games once and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("originbridge %s\n", Version)
		return
	}

	if err := run(scanOnly); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scanOnly bool) error {
	loader := config.NewLoader("")
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mode := log.ModeBridge
	switch {
	case scanOnly:
		mode = log.ModeScan
	case !cfg.HasCredentials():
		mode = log.ModeSetup
	}

	logger, err := log.SetupLogger(&cfg.Logging, mode)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting originbridge", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing(context.WithoutCancel(ctx))

	if cfg.Metrics.Listen != "" {
		serveMetrics(cfg.Metrics.Listen, logger)
	}

	contentPath := localgames.DefaultContentPath(cfg.Local.ContentPath)
	tracker := localgames.NewTracker(contentPath,
		process.NewScanner(log.Component(logger, "process")),
		log.Component(logger, "localgames"))

	if scanOnly {
		games, _, err := tracker.Update(ctx)
		if err != nil {
			return err
		}
		return printJSON(games)
	}

	if mode == log.ModeSetup {
		return runSetupFlow(ctx, loader, cfg, logger)
	}

	return runBridge(ctx, loader, cfg, tracker, logger)
}

// runBridge authenticates with the stored cookies and drives the plugin until interrupted
func runBridge(ctx context.Context, loader *config.Loader, cfg *config.Config, tracker *localgames.Tracker, logger *slog.Logger) error {
	cache, err := store.NewCache(cfg.Cache.Path, cfg.Backend.AuthURL)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer cache.Close()

	auth, err := origin.NewAuthClient(cfg.Backend, log.Component(logger, "auth"))
	if err != nil {
		return err
	}
	client := origin.NewClient(auth, origin.DefaultEndpoints(), cfg.Backend.Locale, log.Component(logger, "backend"))

	plugin := service.NewPlugin(service.Options{
		Auth:            auth,
		Backend:         client,
		Store:           cache,
		Local:           tracker,
		Launcher:        launcher.New(log.Component(logger, "launcher")),
		RefreshInterval: cfg.Local.RefreshInterval,
		Logger:          log.Component(logger, "plugin"),
	})
	defer plugin.Shutdown(context.WithoutCancel(ctx))

	if err := plugin.Start(ctx); err != nil {
		return err
	}

	user, err := plugin.Authenticate(ctx, cfg.Credentials.CookieMap())
	if errors.Is(err, domain.ErrAuthenticationRequired) {
		if err := loader.ClearCredentials(); err != nil {
			logger.Error("failed to clear credentials", "error", err)
		}
		return fmt.Errorf("stored session expired, run originbridge again to sign in: %w", err)
	}
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Signed in as %s\n", user.UserName)

	games, err := plugin.GetOwnedGames(ctx)
	if err != nil {
		logger.Error("failed to load owned games", "error", err)
	} else {
		logger.Info("owned games ready", "count", len(games))
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case <-ticker.C:
			plugin.Tick(ctx)

		case e := <-plugin.Events():
			if err := printJSON(e); err != nil {
				return err
			}
			switch e.Type {
			case service.EventCredentialsUpdated:
				if err := loader.SaveCookies(e.Cookies); err != nil {
					logger.Error("failed to store cookies", "error", err)
				}
			case service.EventAuthLost:
				if err := loader.ClearCredentials(); err != nil {
					logger.Error("failed to clear credentials", "error", err)
				}
				return domain.ErrAuthLost
			}
		}
	}
}

// runSetupFlow asks for the session cookie and stores it once it yields a token
func runSetupFlow(ctx context.Context, loader *config.Loader, cfg *config.Config, logger *slog.Logger) error {
	fmt.Println()
	fmt.Println("Welcome to originbridge!")
	fmt.Println()
	fmt.Println("Sign in at origin.com in your browser, then copy the value of")
	fmt.Println("the 'sid' cookie for accounts.ea.com.")
	fmt.Println()

	cookies := make(map[string]string)
	for _, name := range []string{"sid", "remid"} {
		fmt.Printf("%s (hidden, empty to skip): ", name)
		value, err := readSecret()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if value != "" {
			cookies[name] = value
		}
	}
	if cookies["sid"] == "" {
		return errors.New("the sid cookie is required")
	}

	fmt.Println()
	fmt.Println("Authenticating...")

	auth, err := origin.NewAuthClient(cfg.Backend, log.Component(logger, "auth"))
	if err != nil {
		return err
	}
	defer auth.Close()
	if err := auth.Authenticate(ctx, cookies); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if err := loader.SaveCookies(auth.Cookies()); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Credentials saved to", loader.Path())
	fmt.Println()
	fmt.Println("Run originbridge again to start the bridge.")
	return nil
}

// readSecret reads one line without echo when stdin is a terminal
func readSecret() (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println() // Add newline after hidden input
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}
