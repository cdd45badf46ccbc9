package localgames

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultContentPath returns where the vendor client keeps its manifests.
// override wins when set.
func DefaultContentPath(override string) string {
	if override != "" {
		return override
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Origin", "LocalContent")
	case "darwin":
		return filepath.Join(string(os.PathSeparator), "Library", "Application Support", "Origin", "LocalContent")
	default:
		// No vendor client on this platform; useful for testing against a local tree
		return "."
	}
}
