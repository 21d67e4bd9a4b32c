package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs an IP provider that reports the first IPv4 address assigned to the named interface.
// Loopback addresses are skipped.
//
// This is only useful on hosts whose interface holds the public address directly,
// such as a router or a VPS without NAT.
func InterfaceResolver(iface string) IPProvider {
	return interfaceResolver{iface: iface}
}

type interfaceResolver struct {
	iface string
}

func (r interfaceResolver) ExternalIP(ctx context.Context, log Logger) (netip.Addr, error) {
	ip, err := r.lookup()
	if err != nil {
		log.Errorf("%s", err)
		return netip.Addr{}, err
	}
	if ip.IsPrivate() {
		log.Warnf("interface %s reports private address %s", r.iface, ip)
	}
	log.Infof("successfully read IP from interface %s: %s", r.iface, ip)
	return ip, nil
}

func (r interfaceResolver) lookup() (netip.Addr, error) {
	iface, err := net.InterfaceByName(r.iface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting interface %s by name: %w", r.iface, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error looking up addresses for interface %s: %w", r.iface, err)
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var parseErrors []error
	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s for interface %s: %s", addr.String(), r.iface, err))
			continue
		}
		ip := prefix.Addr()
		if ip.IsLoopback() || !ip.Is4() {
			continue
		}
		return ip, nil
	}
	return netip.Addr{}, errors.Join(fmt.Errorf("no IPv4 address found on interface %s", r.iface), errors.Join(parseErrors...))
}
