package log

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mmcdole/originbridge/internal/config"
)

// Mode is how the binary was started. Each mode logs to its own file so an
// interactive setup or scan never interleaves with a running bridge.
type Mode string

const (
	ModeBridge Mode = "bridge"
	ModeSetup  Mode = "setup"
	ModeScan   Mode = "scan"
)

// credentialKeys are attributes whose values are session secrets
var credentialKeys = map[string]bool{
	"cookies":      true,
	"sid":          true,
	"remid":        true,
	"access_token": true,
}

// SetupLogger initializes the slog logger with file output.
// Stdout belongs to the host protocol, so nothing is ever logged there.
func SetupLogger(cfg *config.LoggingConfig, mode Mode) (*slog.Logger, error) {
	// Expand ~ in path
	logPath := cfg.File
	if strings.HasPrefix(logPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		logPath = filepath.Join(home, logPath[1:])
	}
	logPath = modeLogPath(logPath, mode)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level:       parseLogLevel(cfg.Level),
		ReplaceAttr: redactCredentials,
	})

	logger := slog.New(handler).With("pid", os.Getpid(), "mode", string(mode))
	return logger, nil
}

// modeLogPath suffixes the file name with the mode, except for the bridge
// which keeps the configured name: originbridge.log -> originbridge-setup.log
func modeLogPath(path string, mode Mode) string {
	if mode == "" || mode == ModeBridge {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + string(mode) + ext
}

// redactCredentials keeps cookie names but never their values
func redactCredentials(groups []string, a slog.Attr) slog.Attr {
	if !credentialKeys[a.Key] {
		return a
	}
	if cookies, ok := a.Value.Any().(map[string]string); ok {
		return slog.Any(a.Key, slices.Sorted(maps.Keys(cookies)))
	}
	return slog.String(a.Key, "[redacted]")
}

// Component tags every record from logger with the subsystem that wrote it
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NullLogger returns a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
