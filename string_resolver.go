package ddns

import (
	"context"
	"fmt"
	"net/netip"
)

// FromString constructs an IP provider that always reports addr.
// It fails immediately when addr is not an IPv4 address.
func FromString(addr string) (IPProvider, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse IP: %w", err)
	}
	if !ip.Is4() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}
	return staticResolver(ip), nil
}

type staticResolver netip.Addr

func (s staticResolver) ExternalIP(_ context.Context, log Logger) (netip.Addr, error) {
	ip := netip.Addr(s)
	log.Infof("using static IP %s", ip)
	return ip, nil
}
