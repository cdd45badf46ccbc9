//go:build !windows && !darwin

package launcher

import "github.com/mmcdole/originbridge/internal/domain"

// IsURIHandlerInstalled reports false: the vendor client ships no handler here
func IsURIHandlerInstalled() bool {
	return false
}

func openUninstaller() error {
	return domain.ErrNotSupported
}
