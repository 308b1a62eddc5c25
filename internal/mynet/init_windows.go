//go:build windows

package mynet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/windows"
)

// inbound multicast rules for mDNS answers
var firewallRules = []struct {
	name       string
	remoteAddr string
}{
	{name: "fleetdash mDNS IPv4", remoteAddr: "224.0.0.0/4"},
	{name: "fleetdash mDNS IPv6", remoteAddr: "ff00::/8"},
}

var (
	firewallOnce sync.Once
	firewallErr  error
)

// InitializeFirewall allows inbound mDNS traffic to this executable, once per process
func InitializeFirewall(logger logr.Logger) error {
	firewallOnce.Do(func() {
		firewallErr = initialize(logger.WithName("firewall"))
	})
	return firewallErr
}

func initialize(log logr.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath, err := filepath.Abs(exe)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := windows.CoInitializeEx(0, windows.COINIT_MULTITHREADED); err != nil {
		return fmt.Errorf("CoInitializeEx failed: %w", err)
	}
	defer windows.CoUninitialize()

	for _, rule := range firewallRules {
		args := []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + rule.name,
			"dir=in",
			"action=allow",
			"program=" + exePath,
			fmt.Sprintf("protocol=%d", windows.IPPROTO_UDP),
			"localport=5353",
			"remoteip=" + rule.remoteAddr,
			"enable=yes",
		}
		err := windows.ShellExecute(0, windows.StringToUTF16Ptr("runas"),
			windows.StringToUTF16Ptr("netsh"),
			windows.StringToUTF16Ptr(joinArgs(args)),
			nil, windows.SW_HIDE)
		if err != nil {
			log.Error(err, "Failed to add firewall rule", "rule", rule.name)
			continue
		}
		log.V(1).Info("Added firewall rule", "rule", rule.name)
	}
	return nil
}

func joinArgs(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.Contains(arg, " ") {
			arg = `"` + arg + `"`
		}
		quoted = append(quoted, arg)
	}
	return strings.Join(quoted, " ")
}
