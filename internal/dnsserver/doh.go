// DoH client (component C5): a registry of DNS-over-HTTPS providers, each
// queried over an IP directly rather than through system DNS, with fallback
// across every IP discovered for that provider.

package dnsserver

import (
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/AdguardTeam/dnsproxy/upstream"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// queryTimeout is the fixed per-bootstrap-IP deadline for a single DoH
// exchange.
const queryTimeout = 5 * time.Second

// Provider is one DoH endpoint: a hostname, URL path, and the set of IPs
// queries may be sent to directly, bypassing system DNS for the hostname
// itself.
type Provider struct {
	Name      string
	Host      string
	Path      string
	Bootstrap netip.Addr

	ips []netip.Addr
}

// DefaultProviders returns the built-in provider registry: the same set of
// real public resolvers the original tool's provider table named, minus the
// couple of WIP dnsstamps-only entries that had no plain DoH endpoint.
func DefaultProviders() (providers []*Provider) {
	return []*Provider{
		{Name: "cloudflare", Host: "cloudflare-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("1.1.1.1")},
		{Name: "cloudflare-security", Host: "security.cloudflare-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("1.1.1.2")},
		{Name: "cloudflare-family", Host: "family.cloudflare-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("1.1.1.3")},
		{Name: "opendns", Host: "doh.opendns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("208.67.222.222")},
		{Name: "opendns-family", Host: "doh.familyshield.opendns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("208.67.222.123")},
		{Name: "adguard", Host: "dns.adguard-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("94.140.14.14")},
		{Name: "adguard-family", Host: "family.adguard-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("94.140.14.15")},
		{Name: "adguard-unfiltered", Host: "unfiltered.adguard-dns.com", Path: "/dns-query", Bootstrap: netip.MustParseAddr("94.140.14.140")},
		{Name: "quad9", Host: "dns.quad9.net", Path: "/dns-query", Bootstrap: netip.MustParseAddr("9.9.9.9")},
		{Name: "quad9-unsecured", Host: "dns10.quad9.net", Path: "/dns-query", Bootstrap: netip.MustParseAddr("9.9.9.10")},
		{Name: "google", Host: "dns.google", Path: "/dns-query", Bootstrap: netip.MustParseAddr("8.8.8.8")},
	}
}

// Init populates p's ip-set: a single system DNS lookup of p.Host, plus a
// self-DoH A lookup of p.Host sent through p.Bootstrap alone.
func (p *Provider) Init() (err error) {
	if p.Host == "" || !p.Bootstrap.IsValid() {
		return errors.Annotate(ErrInvalidProvider, "%w: malformed entry for provider "+p.Name)
	}

	seen := map[netip.Addr]struct{}{p.Bootstrap: {}}

	for _, ip := range systemLookupA(p.Host) {
		seen[ip] = struct{}{}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.Host), dns.TypeA)

	if resp, xErr := p.exchangeVia(p.Bootstrap, msg); xErr == nil {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				if addr, ok2 := netip.AddrFromSlice(a.A.To4()); ok2 {
					seen[addr] = struct{}{}
				}
			}
		}
	} else {
		log.Debug("dnsserver: self-doh lookup for %s: %s", p.Host, xErr)
	}

	p.ips = p.ips[:0]
	for ip := range seen {
		p.ips = append(p.ips, ip)
	}

	if len(p.ips) == 0 {
		return errors.Annotate(ErrInvalidProvider, "%w: no ip resolved for provider "+p.Name)
	}

	return nil
}

// systemLookupA resolves host's IPv4 addresses via the system resolver.
func systemLookupA(host string) (ips []netip.Addr) {
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil
	}

	for _, addr := range addrs {
		if v4 := addr.To4(); v4 != nil {
			if a, ok := netip.AddrFromSlice(v4); ok {
				ips = append(ips, a)
			}
		}
	}

	return ips
}

// exchangeVia sends msg to p over bootstrapIP.
func (p *Provider) exchangeVia(bootstrapIP netip.Addr, msg *dns.Msg) (resp *dns.Msg, err error) {
	u, err := upstream.AddressToUpstream("https://"+p.Host+p.Path, &upstream.Options{
		Bootstrap: []string{bootstrapIP.String()},
		Timeout:   queryTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = u.Close() }()

	return u.Exchange(msg)
}

// exchange sends msg, trying every IP in p's ip-set in turn, failing the
// call only after all are exhausted.
func (p *Provider) exchange(msg *dns.Msg) (resp *dns.Msg, err error) {
	ips := p.ips
	if len(ips) == 0 {
		ips = []netip.Addr{p.Bootstrap}
	}

	var lastErr error
	for _, ip := range ips {
		resp, lastErr = p.exchangeVia(ip, msg)
		if lastErr == nil {
			return resp, nil
		}
	}

	return nil, errors.Annotate(ErrQueryFailed, "%w: "+lastErr.Error())
}

// RawAnswer is one (rdata-text, ttl) pair extracted from a DoH answer chain,
// along with the RR type it came from.
type RawAnswer struct {
	Type  uint16
	RData string
	TTL   uint32
}

// Client is the DoH provider registry.
type Client struct {
	providers map[string]*Provider
}

// NewClient registers and initializes providers.  A provider whose Init
// fails is logged and skipped rather than aborting the whole registry,
// since the remaining providers can still serve queries.
func NewClient(providers []*Provider) (c *Client) {
	c = &Client{providers: map[string]*Provider{}}

	for _, p := range providers {
		if err := p.Init(); err != nil {
			log.Error("dnsserver: %s", err)

			continue
		}

		c.providers[p.Name] = p
	}

	return c
}

// ResolveRaw issues a DoH query against the named provider.  On RCODE ==
// NOERROR with a non-empty answer chain it returns each answer's rdata text
// with the chain's minimum TTL; any other RCODE, or a transport failure
// across every bootstrap IP, is reported as ErrQueryFailed.
func (c *Client) ResolveRaw(provider, name string, qtype uint16) (answers []RawAnswer, minTTL uint32, err error) {
	p, ok := c.providers[provider]
	if !ok {
		return nil, 0, errors.Annotate(ErrProviderNotExist, "%w: "+provider)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, err := p.exchange(msg)
	if err != nil {
		return nil, 0, err
	}

	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return nil, 0, ErrQueryFailed
	}

	minTTL = resp.Answer[0].Header().Ttl
	for _, rr := range resp.Answer {
		if ttl := rr.Header().Ttl; ttl < minTTL {
			minTTL = ttl
		}

		answers = append(answers, RawAnswer{
			Type:  rr.Header().Rrtype,
			RData: rdataText(rr),
			TTL:   rr.Header().Ttl,
		})
	}

	return answers, minTTL, nil
}

// rdataText extracts the plain rdata string from an answer RR: the address
// for A/AAAA, the target for CNAME/NS/PTR, otherwise its generic string
// form with the owner/TTL/class/type header stripped.
func rdataText(rr dns.RR) (text string) {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return v.Target
	case *dns.NS:
		return v.Ns
	case *dns.PTR:
		return v.Ptr
	default:
		return strings.TrimPrefix(rr.String(), rr.Header().String())
	}
}
