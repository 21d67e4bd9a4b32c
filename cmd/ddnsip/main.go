// Command ddnsip prints the address reported by each IP source ddnsd can use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Travis-Britz/ddns/v2"
	"github.com/sirupsen/logrus"
)

type source struct {
	name string
	ip   ddns.IPProvider
}

func main() {
	webURL := flag.String("url", ddns.DefaultIPService, "Web service returning the caller's IP")
	dnsServer := flag.String("dns-server", ddns.OpenDNSServer, "DNS server answering with the caller's IP")
	dnsName := flag.String("dns-name", ddns.OpenDNSName, "Name to query at -dns-server")
	iface := flag.String("iface", "", "Also report the IPv4 address of this interface")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	base := logrus.New()
	if *verbose {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.WarnLevel)
	}
	logger := ddns.NewLogger(base.WithField("component", "ddnsip"))

	var sources []source
	if web, err := ddns.WebResolver(*webURL); err != nil {
		logger.Errorf("web source disabled: %s", err)
	} else {
		sources = append(sources, source{"web", web})
	}
	sources = append(sources, source{"dns", ddns.DNSResolver(*dnsServer, *dnsName)})
	if *iface != "" {
		sources = append(sources, source{"interface", ddns.InterfaceResolver(*iface)})
	}

	failed := false
	for _, s := range sources {
		ip, err := s.ip.ExternalIP(context.Background(), logger)
		if err != nil {
			failed = true
			fmt.Printf("%-10s error: %s\n", s.name, err)
			continue
		}
		fmt.Printf("%-10s %s\n", s.name, ip)
	}
	if failed {
		os.Exit(1)
	}
}
