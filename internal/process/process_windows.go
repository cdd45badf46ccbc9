//go:build windows

package process

import (
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sys/windows"
)

const initialPIDBuffer = 4096

type windowsScanner struct {
	logger *slog.Logger
}

func newOSScanner(logger *slog.Logger) Scanner {
	return &windowsScanner{logger: logger}
}

func (s *windowsScanner) Processes() iter.Seq[Info] {
	return func(yield func(Info) bool) {
		pids, err := enumProcesses()
		if err != nil {
			s.logger.Error("failed to iterate over the process list", "error", err)
			return
		}
		for _, pid := range pids {
			if !yield(Info{PID: pid, Exe: imagePath(pid)}) {
				return
			}
		}
	}
}

// enumProcesses grows the id buffer until the returned ids fit in it
func enumProcesses() ([]uint32, error) {
	size := initialPIDBuffer
	for {
		pids := make([]uint32, size)
		var returned uint32
		if err := windows.EnumProcesses(pids, &returned); err != nil {
			return nil, fmt.Errorf("EnumProcesses: %w", err)
		}
		count := int(returned) / 4
		if count < size {
			return pids[:count], nil
		}
		size *= 2
	}
}

// imagePath returns the full image path of pid, or "" when it cannot be queried
func imagePath(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	n := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &n); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}
