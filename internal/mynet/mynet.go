package mynet

import (
	"fmt"
	"net"

	"github.com/go-logr/logr"
	"github.com/jackpal/gateway"
)

// MainInterface returns the interface on the same network as the default gateway, with
// its IPv4 address on that network.
func MainInterface(log logr.Logger) (*net.Interface, *net.IP, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		log.Error(err, "Finding network gateway")
		return nil, nil, err
	}
	log.V(1).Info("Found network gateway", "ip", gw.String())

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("listing interfaces: %w", err)
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := i.Addrs()
		if err != nil {
			log.V(1).Info("Skipping interface without addresses", "iface", i.Name, "error", err.Error())
			continue
		}
		for _, a := range addrs {
			ip, nw, err := net.ParseCIDR(a.String())
			if err != nil || ip.To4() == nil {
				continue
			}
			if nw.Contains(gw) {
				log.V(1).Info("Selected interface", "iface", i.Name, "ip", ip.String())
				return &i, &ip, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("no interface on the same network as gateway %v", gw)
}
