package mynet

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
)

const DefaultTimeout = 5 * time.Second

// Resolver browses and publishes DNS-SD services over mDNS.
type Resolver struct {
	log     logr.Logger
	timeout time.Duration
}

func NewResolver(log logr.Logger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		log:     log.WithName("mynet"),
		timeout: timeout,
	}
}

// LookupService returns tcp://ip:port of the first instance of service answering within
// the resolver timeout.
func (r *Resolver) LookupService(ctx context.Context, service string) (*url.URL, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zeroconf resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *url.URL, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				// Filter-out spurious candidates
				if entry == nil || !strings.Contains(entry.Service, strings.TrimSuffix(service, ".")) {
					continue
				}
				for _, ip := range entry.AddrIPv4 {
					r.log.Info("Found service instance", "service", service, "instance", entry.Instance, "ip", ip, "port", entry.Port)
					select {
					case found <- &url.URL{Scheme: "tcp", Host: fmt.Sprintf("%v:%v", ip, entry.Port)}:
					default:
					}
					cancel()
					return
				}
			}
		}
	}()

	r.log.V(1).Info("Browsing", "service", service, "timeout", r.timeout)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", service, err)
	}
	<-ctx.Done()

	select {
	case u := <-found:
		return u, nil
	default:
		return nil, fmt.Errorf("no instance found for service %s", service)
	}
}

// PublishService registers instance until ctx is done. It binds to the main interface
// when one is found, to every interface otherwise.
func (r *Resolver) PublishService(ctx context.Context, instance, service string, port int, txt []string) error {
	var ifaces []net.Interface
	if iface, _, err := MainInterface(r.log); err == nil {
		ifaces = []net.Interface{*iface}
	} else {
		r.log.Info("Publishing on all interfaces", "reason", err.Error())
	}

	if err := InitializeFirewall(r.log); err != nil {
		r.log.Error(err, "Failed to open the firewall for mDNS")
	}

	srv, err := zeroconf.Register(instance, service, "local.", port, txt, ifaces)
	if err != nil {
		return fmt.Errorf("publishing %s %s: %w", instance, service, err)
	}
	r.log.Info("Published over mDNS", "instance", instance, "service", service, "port", port)

	go func() {
		<-ctx.Done()
		r.log.Info("Withdrawing mDNS service", "instance", instance, "service", service)
		srv.Shutdown()
	}()
	return nil
}
