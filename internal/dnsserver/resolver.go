// DNS resolver (component C7): dispatches a query through local zones, the
// answer cache, the DoH client, and finally an optional plain-upstream
// fallback.

package dnsserver

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// ZoneFinder returns the zone whose origin is a suffix of qname, or nil if
// none is configured to serve it. The server supplies this to the
// resolver, matching the "find_zone provided by the server" callback at the
// core boundary.
type ZoneFinder func(qname string) *Zone

// upstreamTimeout bounds a single plain-upstream fallback exchange.
const upstreamTimeout = 5 * time.Second

// Resolver is the DNS resolver core. Resolve's proto argument is "udp" or
// "tcp", matching the transport the query arrived on, since the
// plain-upstream fallback must use the same one.
type Resolver struct {
	FindZone     ZoneFinder
	PTRZones     []*PTRZone
	Cache        *Cache
	DoH          *Client
	DoHProvider  string
	UpstreamAddr netip.Addr
	StripAAAA    bool
}

// Resolve answers req, in order: AAAA stripping (if enabled), PTR zones (for
// PTR queries), local zones, cache, DoH, plain upstream.
func (r *Resolver) Resolve(req *dns.Msg, proto string) (resp *dns.Msg) {
	if len(req.Question) == 0 {
		return makeResponse(req)
	}

	q := req.Question[0]
	qname, qtype := q.Name, q.Qtype

	if r.StripAAAA && qtype == dns.TypeAAAA {
		return nxdomain(req, nil)
	}

	if qtype == dns.TypePTR {
		if targets := r.findPTR(qname); len(targets) > 0 {
			resp = makeResponse(req)
			for _, target := range targets {
				resp.Answer = append(resp.Answer, &dns.PTR{
					Hdr: hdr(qname, dns.TypePTR, 3600),
					Ptr: target,
				})
			}

			return resp
		}
	}

	if zone := r.FindZone(qname); zone != nil {
		return r.resolveLocal(req, zone, qname, qtype)
	}

	if rrs, ok := r.Cache.Get(qname, qtype); ok {
		resp = makeResponse(req)
		resp.Answer = rrs

		return resp
	}

	return r.resolveUpstream(req, proto, qname, qtype)
}

// findPTR searches every registered PTR zone for qname.
func (r *Resolver) findPTR(qname string) (targets []string) {
	for _, z := range r.PTRZones {
		if found := z.Find(qname); len(found) > 0 {
			return found
		}
	}

	return nil
}

// resolveLocal answers from a matched authoritative zone: matching records,
// or NXDOMAIN if the zone has no record for (qname, qtype) — the zone makes
// no NODATA distinction, matching the resolver this core is ground-truthed
// against.
func (r *Resolver) resolveLocal(req *dns.Msg, zone *Zone, qname string, qtype uint16) (resp *dns.Msg) {
	matches, _ := zone.Find(qname, qtype)
	if len(matches) == 0 {
		return nxdomain(req, zone)
	}

	resp = makeResponse(req)
	for _, rec := range matches {
		rr, err := buildRR(rec)
		if err != nil {
			log.Error("dnsserver: %s", err)

			continue
		}

		resp.Answer = append(resp.Answer, rr)
	}

	return resp
}

// resolveUpstream consults the DoH client.  A DNSQueryFailed from DoH (a
// non-NOERROR/empty answer, or every bootstrap IP exhausted) is a definite
// answer in its own right and becomes NXDOMAIN directly; only an
// unexpected DoH error — one that isn't ErrQueryFailed, e.g. a
// misconfigured provider — falls through to the plain-upstream fallback.
func (r *Resolver) resolveUpstream(req *dns.Msg, proto, qname string, qtype uint16) (resp *dns.Msg) {
	if r.DoH != nil {
		answers, minTTL, err := r.DoH.ResolveRaw(r.DoHProvider, qname, qtype)
		if err == nil {
			rrs := rawAnswersToRRs(qname, answers, minTTL)
			r.Cache.Set(qname, qtype, rrs)

			resp = makeResponse(req)
			resp.Answer = rrs

			return resp
		}

		log.Debug("dnsserver: doh resolve %s %s: %s", qname, dns.TypeToString[qtype], err)

		if errors.Is(err, ErrQueryFailed) {
			return nxdomain(req, nil)
		}
	}

	if r.UpstreamAddr.IsValid() {
		if reply, err := r.forwardPlain(req, proto); err == nil {
			return reply
		} else {
			log.Debug("dnsserver: plain upstream fallback for %s: %s", qname, err)
		}
	}

	return nxdomain(req, nil)
}

// rawAnswersToRRs builds typed RRs from a DoH answer chain.  minTTL is
// accepted for symmetry with the cache's (rrs, minTTL) contract even though
// each RR already carries its own TTL; the cache recomputes the minimum
// itself from the RR set.
func rawAnswersToRRs(qname string, answers []RawAnswer, minTTL uint32) (rrs []dns.RR) {
	for _, a := range answers {
		rr, err := buildRR(Record{Name: qname, Type: a.Type, TTL: a.TTL, RData: a.RData})
		if err != nil {
			// Chain members outside the supported record set (MX, SRV,
			// CAA, HTTPS, …) still belong in the reply: fall back to a
			// generic zone-file-style textual parse rather than dropping
			// the answer.
			text := dns.Fqdn(qname) + " " + strconv.FormatUint(uint64(a.TTL), 10) +
				" IN " + dns.TypeToString[a.Type] + " " + a.RData
			rr, err = dns.NewRR(text)
			if err != nil {
				log.Debug("dnsserver: parsing doh answer %q: %s", text, err)

				continue
			}
		}

		rrs = append(rrs, rr)
	}

	return rrs
}

// forwardPlain forwards req to the configured plain upstream over proto.
// Any exchange failure, deadline expiry included, is returned as
// ErrUpstreamTimeout.
func (r *Resolver) forwardPlain(req *dns.Msg, proto string) (resp *dns.Msg, err error) {
	client := &dns.Client{Net: proto, Timeout: upstreamTimeout}

	addr := net.JoinHostPort(r.UpstreamAddr.String(), "53")

	resp, _, err = client.Exchange(req, addr)
	if err != nil {
		return nil, errors.Annotate(ErrUpstreamTimeout, "%w: "+err.Error())
	}

	return resp, nil
}
