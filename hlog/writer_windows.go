//go:build windows

package hlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/windows/svc"
)

func debugInit(msg string) {
	if os.Getenv("FLEETDASH_LOG_INIT") != "" {
		fmt.Fprintf(os.Stderr, "fleetdash#Init: %s\n", msg)
	}
}

func IsTerminal() bool {
	isService, err := svc.IsWindowsService()
	if err == nil && isService {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func getLogDir() string {
	if isService, _ := svc.IsWindowsService(); isService {
		return filepath.Join(filepath.VolumeName(os.Getenv("SystemDrive")), "ProgramData", "fleetdash", "logs")
	}

	appData := os.Getenv("LOCALAPPDATA")
	if appData == "" {
		appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
	}
	return filepath.Join(appData, "fleetdash", "logs")
}
