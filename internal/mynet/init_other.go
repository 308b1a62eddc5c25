//go:build !windows

package mynet

import "github.com/go-logr/logr"

// InitializeFirewall has nothing to open outside Windows: mDNS on 5353/udp is not
// filtered per executable there.
func InitializeFirewall(logger logr.Logger) error {
	logger.V(1).Info("No firewall rule needed for mDNS")
	return nil
}
