package process

import (
	"iter"
	"log/slog"
)

// Info describes one running process. Exe is empty when the image path could not be read.
type Info struct {
	PID uint32
	Exe string
}

// Scanner enumerates running processes.
// Every range over Processes takes a fresh snapshot of the process table.
type Scanner interface {
	Processes() iter.Seq[Info]
}

// NewScanner returns the scanner for the current platform
func NewScanner(logger *slog.Logger) Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return newOSScanner(logger)
}

// Static is a fixed process list, used when the process table should not be consulted
type Static []Info

// Processes yields the fixed list
func (s Static) Processes() iter.Seq[Info] {
	return func(yield func(Info) bool) {
		for _, p := range s {
			if !yield(p) {
				return
			}
		}
	}
}

// ExePaths collects the non-empty executable paths from one scan
func ExePaths(s Scanner) []string {
	var paths []string
	for p := range s.Processes() {
		if p.Exe != "" {
			paths = append(paths, p.Exe)
		}
	}
	return paths
}
