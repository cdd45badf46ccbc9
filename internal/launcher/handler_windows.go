//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// IsURIHandlerInstalled reports whether origin2:// resolves to an existing executable
func IsURIHandlerInstalled() bool {
	key, err := registry.OpenKey(registry.CLASSES_ROOT, `origin2\shell\open\command`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer key.Close()

	command, _, err := key.GetStringValue("")
	if err != nil {
		return false
	}
	exe := handlerExecutable(command)
	if exe == "" {
		return false
	}
	_, err = os.Stat(exe)
	return err == nil
}

func openUninstaller() error {
	return exec.Command("control", "appwiz.cpl").Start()
}

// handlerExecutable extracts the executable from a shell open command such as
// "C:\Origin\Origin.exe" "%1"
func handlerExecutable(command string) string {
	command = strings.ReplaceAll(command, `"`, "")
	if i := strings.Index(command, "%"); i >= 0 {
		command = command[:i]
	}
	return strings.TrimSpace(command)
}
