//go:build darwin

package launcher

import (
	"os"
	"path/filepath"

	"github.com/mmcdole/originbridge/internal/domain"
)

// IsURIHandlerInstalled reports whether the Origin app bundle that registers
// origin2:// is present
func IsURIHandlerInstalled() bool {
	candidates := []string{"/Applications/Origin.app"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "Applications", "Origin.app"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func openUninstaller() error {
	return domain.ErrNotSupported
}
