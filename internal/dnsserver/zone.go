// DNS zone model (component C4): authoritative forward zones and PTR zones,
// plus the record matching find() performs against them.

package dnsserver

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// SOA is a zone's start-of-authority record.  Admin holds the admin email as
// given (e.g. "hostmaster@home."); buildSOA converts it to its DNS form with
// NormalizeAdmin.
type SOA struct {
	NS      string
	Admin   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// NormalizeAdmin converts an admin email address like "hostmaster@home." to
// its SOA RNAME form "hostmaster.home.".
func NormalizeAdmin(email string) (rname string) {
	return strings.Replace(email, "@", ".", 1)
}

// Record is one entry in a Zone: an owner name, RR type, TTL, and the
// type-dependent rdata in its textual form (e.g. a dotted IPv4 address for
// an A record, a target name for a CNAME/NS/PTR).
type Record struct {
	Name  string
	Type  uint16
	TTL   uint32
	RData string
}

// Zone is an authoritative forward zone: an origin, its SOA, and the
// records it owns.  Records are expanded and validated against origin at
// insertion time (AddRecord), matching the "record belongs to zone"
// ownership described for the original's cyclic Record↔Zone references.
type Zone struct {
	Origin string
	SOA    SOA

	records []Record
	byKey   map[string][]Record
}

// NewZone creates an empty zone rooted at origin, which is normalized to end
// with a trailing '.'.
func NewZone(origin string, soa SOA) (z *Zone) {
	return &Zone{
		Origin: dns.Fqdn(origin),
		SOA:    soa,
		byKey:  map[string][]Record{},
	}
}

// expandAt replaces a bare "@" token — meaning "the zone origin" — or an
// empty value with z's origin, leaving every other value untouched.
func (z *Zone) expandAt(s string) (expanded string) {
	if s == "@" || s == "" {
		return z.Origin
	}

	return s
}

// AddRecord normalizes "@" tokens in the name (and in the rdata of
// CNAME/NS/PTR records), qualifies a relative owner name (one without a
// trailing '.') with z's origin, and inserts the record after verifying that
// its owner is within z's origin (a suffix match).
func (z *Zone) AddRecord(rec Record) (err error) {
	name := z.expandAt(rec.Name)
	if !dns.IsFqdn(name) {
		name += "." + z.Origin
	}
	rec.Name = name

	if rec.Type == dns.TypeCNAME || rec.Type == dns.TypeNS || rec.Type == dns.TypePTR {
		rec.RData = dns.Fqdn(z.expandAt(rec.RData))
	}

	if !dns.IsSubDomain(z.Origin, name) {
		return fmt.Errorf("dnsserver: record owner %q is outside zone %q", name, z.Origin)
	}

	z.records = append(z.records, rec)

	key := recordKey(name, rec.Type)
	z.byKey[key] = append(z.byKey[key], rec)

	return nil
}

// recordKey builds the lookup key find uses: case-folded name plus type.
func recordKey(name string, rrtype uint16) (key string) {
	return strings.ToLower(name) + "/" + dns.TypeToString[rrtype]
}

// Find returns every record matching (qname, qtype).  hasName reports
// whether the zone owns qname at all (for any type).  The resolver does not
// use hasName: it answers NXDOMAIN whenever matches is empty.
func (z *Zone) Find(qname string, qtype uint16) (matches []Record, hasName bool) {
	qname = dns.Fqdn(qname)

	hasName = z.ownsName(qname)
	matches = z.byKey[recordKey(qname, qtype)]

	return matches, hasName
}

// ownsName reports whether z has any record at all owned by qname.
func (z *Zone) ownsName(qname string) (ok bool) {
	qname = strings.ToLower(dns.Fqdn(qname))
	for _, rec := range z.records {
		if strings.ToLower(rec.Name) == qname {
			return true
		}
	}

	return false
}

// PTRZone is a reverse-DNS zone covering one aligned IPv4 prefix, e.g.
// "10.47.0" for the /24 whose in-addr.arpa root is "0.47.10.in-addr.arpa.".
type PTRZone struct {
	Prefix string
	Hosts  map[string][]string
}

// NewPTRZone creates an empty PTR zone for prefix (e.g. "10.47.0").
func NewPTRZone(prefix string) (z *PTRZone) {
	return &PTRZone{Prefix: prefix, Hosts: map[string][]string{}}
}

// AddHost appends target to the PTR list for host octet octet (e.g. "23"
// for 10.47.0.23), expanding "@" in target to a literal "." placeholder is
// not meaningful here since PTR zones have no forward origin; targets are
// taken as already-qualified names.
func (z *PTRZone) AddHost(octet, target string) {
	z.Hosts[octet] = append(z.Hosts[octet], dns.Fqdn(target))
}

// reverseLabel builds the in-addr.arpa owner name for octet within z, e.g.
// "1.0.47.10.in-addr.arpa." for prefix "10.47.0" and octet "1".
func (z *PTRZone) reverseLabel(octet string) (label string) {
	parts := strings.Split(z.Prefix, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return octet + "." + strings.Join(parts, ".") + ".in-addr.arpa."
}

// Find returns the PTR targets for the host whose full reverse label is
// qname, or nil if z doesn't cover that address.
func (z *PTRZone) Find(qname string) (targets []string) {
	qname = strings.ToLower(dns.Fqdn(qname))
	for octet, names := range z.Hosts {
		if strings.ToLower(z.reverseLabel(octet)) == qname {
			return names
		}
	}

	return nil
}
