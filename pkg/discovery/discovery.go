// Package discovery tells people on the local network where the clipboard is: it resolves the
// LAN address printed at startup and can advertise the service over mDNS.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_clipboard._tcp"
	Domain      = "local."
)

// LocalIP returns the first non-loopback IPv4 address of the host, or "localhost" when there is none.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("failed to list interfaces", "err", err)
		return "localhost"
	}
	return firstIPv4(ifaces, func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() })
}

func firstIPv4(ifaces []net.Interface, addrs func(net.Interface) ([]net.Addr, error)) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		as, err := addrs(iface)
		if err != nil {
			continue
		}
		for _, a := range as {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return "localhost"
}

// Advertise registers the clipboard on port with mDNS and keeps it registered until ctx is done.
func Advertise(ctx context.Context, port int) error {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("%s-%s", "Clipboard", host)
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, []string{"path=/"}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	defer server.Shutdown()
	slog.Info("mDNS service registered", "instance", instance, "service", ServiceType, "port", port)
	<-ctx.Done()
	return nil
}
