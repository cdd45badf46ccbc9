//go:build !windows

package process

import (
	"errors"
	"iter"
	"log/slog"

	gops "github.com/shirou/gopsutil/v4/process"
)

type psScanner struct {
	logger *slog.Logger
}

func newOSScanner(logger *slog.Logger) Scanner {
	return &psScanner{logger: logger}
}

func (s *psScanner) Processes() iter.Seq[Info] {
	return func(yield func(Info) bool) {
		pids, err := gops.Pids()
		if err != nil {
			s.logger.Error("failed to iterate over the process list", "error", err)
			return
		}
		for _, pid := range pids {
			p, err := gops.NewProcess(pid)
			if err != nil {
				// Exited between listing and lookup
				continue
			}
			exe, err := p.Exe()
			if err != nil {
				if errors.Is(err, gops.ErrorProcessNotRunning) {
					continue
				}
				s.logger.Debug("failed to get process information", "pid", pid, "error", err)
			}
			if !yield(Info{PID: uint32(pid), Exe: exe}) {
				return
			}
		}
	}
}
