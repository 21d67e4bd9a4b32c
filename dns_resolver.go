package ddns

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

const (
	OpenDNSServer = "resolver1.opendns.com:53"
	OpenDNSName   = "myip.opendns.com."
)

// DNSResolver constructs an IP provider which asks a DNS server for the caller's address.
//
// Some resolvers answer a well known name with the address the query came from,
// e.g. OpenDNS answers myip.opendns.com when asked directly at resolver1.opendns.com.
// Empty arguments select the OpenDNS defaults.
func DNSResolver(server, name string) IPProvider {
	if server == "" {
		server = OpenDNSServer
	}
	if name == "" {
		name = OpenDNSName
	}
	return &dnsResolver{
		server:  server,
		name:    dns.Fqdn(name),
		client:  &dns.Client{Net: "udp"},
		timeout: DefaultTimeout,
	}
}

type dnsResolver struct {
	server  string
	name    string
	client  *dns.Client
	timeout time.Duration
}

func (dr *dnsResolver) SetTimeout(d time.Duration) { dr.timeout = d }

// ExternalIP implements ddns.IPProvider.
func (dr *dnsResolver) ExternalIP(ctx context.Context, log Logger) (netip.Addr, error) {
	ip, err := dr.lookup(ctx)
	if err != nil {
		log.Errorf("%s", err)
		return netip.Addr{}, err
	}
	log.Infof("successfully fetched IP from %s: %s", dr.server, ip)
	return ip, nil
}

func (dr *dnsResolver) lookup(ctx context.Context) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, dr.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dr.name, dns.TypeA)

	in, _, err := dr.client.ExchangeContext(ctx, m, dr.server)
	if err != nil {
		if isTimeout(err) {
			return netip.Addr{}, fmt.Errorf("query for %s at %s timed out after %s: %w", dr.name, dr.server, dr.timeout, err)
		}
		return netip.Addr{}, fmt.Errorf("query for %s at %s failed: %w", dr.name, dr.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("query for %s at %s returned %s", dr.name, dr.server, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.A.To4())
		if ok && ip.Is4() {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("query for %s at %s returned no A record", dr.name, dr.server)
}
