package dnsserver

import (
	"fmt"
	"net"
	"regexp"

	"github.com/miekg/dns"
)

// hdr builds a standard answer header for name/rrtype/ttl, matching the
// teacher's genAnswer* helpers.
func hdr(name string, rrtype uint16, ttl uint32) (h dns.RR_Header) {
	return dns.RR_Header{
		Name:   dns.Fqdn(name),
		Rrtype: rrtype,
		Class:  dns.ClassINET,
		Ttl:    ttl,
	}
}

// buildRR turns one zone Record into its typed miekg/dns RR.  Only the
// record types named in the core's scope are supported; an unrecognized
// type is an error, not a silent drop.
func buildRR(rec Record) (rr dns.RR, err error) {
	h := hdr(rec.Name, rec.Type, rec.TTL)

	switch rec.Type {
	case dns.TypeA:
		ip := net.ParseIP(rec.RData).To4()
		if ip == nil {
			return nil, fmt.Errorf("dnsserver: invalid A rdata %q", rec.RData)
		}

		return &dns.A{Hdr: h, A: ip}, nil
	case dns.TypeAAAA:
		ip := net.ParseIP(rec.RData)
		if ip == nil {
			return nil, fmt.Errorf("dnsserver: invalid AAAA rdata %q", rec.RData)
		}

		return &dns.AAAA{Hdr: h, AAAA: ip}, nil
	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: h, Target: dns.Fqdn(rec.RData)}, nil
	case dns.TypeNS:
		return &dns.NS{Hdr: h, Ns: dns.Fqdn(rec.RData)}, nil
	case dns.TypePTR:
		return &dns.PTR{Hdr: h, Ptr: dns.Fqdn(rec.RData)}, nil
	case dns.TypeTXT:
		return &dns.TXT{Hdr: h, Txt: []string{rec.RData}}, nil
	case dns.TypeSOA:
		return nil, fmt.Errorf("dnsserver: SOA records are synthesized, not stored")
	default:
		return nil, fmt.Errorf("dnsserver: unsupported record type %s", dns.TypeToString[rec.Type])
	}
}

// buildSOA synthesizes the authority-section SOA used in NXDOMAIN replies,
// e.g. for negative caching hints.
func buildSOA(zone string, soa SOA) (rr *dns.SOA) {
	return &dns.SOA{
		Hdr:     hdr(zone, dns.TypeSOA, soa.Minimum),
		Ns:      dns.Fqdn(soa.NS),
		Mbox:    dns.Fqdn(NormalizeAdmin(soa.Admin)),
		Serial:  soa.Serial,
		Refresh: soa.Refresh,
		Retry:   soa.Retry,
		Expire:  soa.Expire,
		Minttl:  soa.Minimum,
	}
}

// makeResponse builds the common reply skeleton for req.
func makeResponse(req *dns.Msg) (resp *dns.Msg) {
	resp = &dns.Msg{}
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Compress = true

	return resp
}

// nxdomain builds an NXDOMAIN reply, attaching zone's SOA as a negative
// caching hint when one is given.
func nxdomain(req *dns.Msg, zone *Zone) (resp *dns.Msg) {
	resp = &dns.Msg{}
	resp.SetRcode(req, dns.RcodeNameError)
	resp.RecursionAvailable = true

	if zone != nil {
		resp.Ns = []dns.RR{buildSOA(zone.Origin, zone.SOA)}
	}

	return resp
}

// ipv4Pattern matches bare dotted-quad substrings inside free-form text,
// e.g. IPv4 hints packed into an HTTPS record's SvcParams.
var ipv4Pattern = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}\b`)

// extractIPv4Hints pulls every syntactically valid dotted-quad IPv4 address
// out of an HTTPS record's ipv4hint SvcParam, matching the spoof detector's
// need to see through SVCB-packed parameters rather than only plain A
// records.
func extractIPv4Hints(rr *dns.HTTPS) (ips []string) {
	for _, kv := range rr.Value {
		if kv.Key() != dns.SVCB_IPV4HINT {
			continue
		}

		for _, candidate := range ipv4Pattern.FindAllString(kv.String(), -1) {
			if net.ParseIP(candidate).To4() != nil {
				ips = append(ips, candidate)
			}
		}
	}

	return ips
}
