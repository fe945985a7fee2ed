// Command homestackd is a worked wiring example: it builds a DHCPv4 server
// and a DNS server from hard-coded configuration and runs both until
// SIGINT/SIGTERM, matching the teacher's dhcpd/standalone demo.
package main

import (
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"

	"github.com/lilrt/homestack/internal/dhcpd"
	"github.com/lilrt/homestack/internal/dnsserver"
)

// spoofDomains mirrors the original tool's curated default list: a handful
// of real third-party hostnames it demonstrated route-injection against.
var spoofDomains = []string{
	"youtube.com.",
	"googlevideo.com.",
	"openai.com.",
	"chatgpt.com.",
	"instagram.com.",
	"facebook.com.",
	"jetbrains.com.",
}

func main() {
	dhcpConf := &dhcpd.Config{
		Network:             netip.MustParseAddr("10.47.0.0"),
		Netmask:             net.IPv4(255, 255, 255, 0),
		RangeStart:          netip.MustParseAddr("10.47.0.100"),
		RangeEnd:            netip.MustParseAddr("10.47.0.200"),
		Router:              []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		LeaseTime:           12 * time.Hour,
		DNSServers:          []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		Broadcast:           netip.MustParseAddr("10.47.0.255"),
		ServerAddresses:     []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		Domain:              "home.",
		DataFile:            "/var/lib/homestackd/leases.json",
		AllowReleaseDecline: true,
	}

	if err := dhcpConf.Init(); err != nil {
		log.Error("homestackd: dhcp config: %s", err)
		os.Exit(1)
	}

	dhcpSrv, err := dhcpd.NewServer(dhcpConf)
	if err != nil {
		log.Error("homestackd: building dhcp server: %s", err)
		os.Exit(1)
	}

	if err = dhcpSrv.Start(); err != nil {
		log.Error("homestackd: starting dhcp server: %s", err)
		os.Exit(1)
	}

	zone := dnsserver.NewZone("home.", dnsserver.SOA{
		NS:      "ns1.home.",
		Admin:   "hostmaster@home.",
		Serial:  1,
		Refresh: 3600,
		Retry:   600,
		Expire:  86400,
		Minimum: 300,
	})

	if zErr := zone.AddRecord(dnsserver.Record{
		Name: "router", Type: dns.TypeA, TTL: 3600, RData: "10.47.0.1",
	}); zErr != nil {
		log.Error("homestackd: adding router record: %s", zErr)
		os.Exit(1)
	}

	ptrZone := dnsserver.NewPTRZone("10.47.0")
	ptrZone.AddHost("1", "router.home.")

	cache := dnsserver.NewCache(spoofDomains)
	cache.OnSpoof(func(ip, domain string) {
		log.Info("homestackd: spoof match: %s resolved %s", domain, ip)
	})

	doh := dnsserver.NewClient(dnsserver.DefaultProviders())

	resolver := &dnsserver.Resolver{
		FindZone: func(qname string) *dnsserver.Zone {
			if dns.IsSubDomain(zone.Origin, dns.Fqdn(qname)) {
				return zone
			}

			return nil
		},
		PTRZones:     []*dnsserver.PTRZone{ptrZone},
		Cache:        cache,
		DoH:          doh,
		DoHProvider:  "cloudflare",
		UpstreamAddr: netip.MustParseAddr("9.9.9.9"),
	}

	dnsSrv := &dnsserver.Server{Addr: ":53", Resolver: resolver, Cache: cache}
	if err = dnsSrv.Start(); err != nil {
		log.Error("homestackd: starting dns server: %s", err)
		os.Exit(1)
	}

	log.Info("homestackd: dhcp and dns servers running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("homestackd: shutting down")
	dhcpSrv.Stop()

	if err = dnsSrv.Stop(); err != nil {
		log.Error("homestackd: stopping dns server: %s", err)
	}
}
