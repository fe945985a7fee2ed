package dnsserver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, *Zone) {
	zone := NewZone("home.", testSOA())
	require.NoError(t, zone.AddRecord(Record{Name: "router", Type: dns.TypeA, TTL: 3600, RData: "10.47.0.1"}))

	return &Resolver{
		FindZone: func(qname string) *Zone {
			if zone.ownsName(dns.Fqdn(qname)) || dns.IsSubDomain(zone.Origin, dns.Fqdn(qname)) {
				return zone
			}

			return nil
		},
		Cache: NewCache(nil),
	}, zone
}

func query(name string, qtype uint16) (req *dns.Msg) {
	req = new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)

	return req
}

func TestResolve_LocalHit(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Resolve(query("router.home.", dns.TypeA), "udp")
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.47.0.1", a.A.String())
}

func TestResolve_LocalNameExistsTypeAbsent(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Resolve(query("router.home.", dns.TypeAAAA), "udp")
	assert.Empty(t, resp.Answer)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestResolve_LocalNXDOMAIN(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Resolve(query("ghost.home.", dns.TypeA), "udp")
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Len(t, resp.Ns, 1)
}

func TestResolve_PTRHit(t *testing.T) {
	r, _ := newTestResolver(t)
	r.PTRZones = []*PTRZone{NewPTRZone("10.47.0")}
	r.PTRZones[0].AddHost("1", "router.home.")

	resp := r.Resolve(query("1.0.47.10.in-addr.arpa.", dns.TypePTR), "udp")
	require.Len(t, resp.Answer, 1)

	ptr, ok := resp.Answer[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, "router.home.", ptr.Ptr)
}

func TestResolve_CacheHit(t *testing.T) {
	r, _ := newTestResolver(t)
	r.FindZone = func(string) *Zone { return nil }

	rrs := []dns.RR{&dns.A{Hdr: hdr("example.com.", dns.TypeA, 3600), A: []byte{1, 2, 3, 4}}}
	r.Cache.Set("example.com.", dns.TypeA, rrs)

	resp := r.Resolve(query("example.com.", dns.TypeA), "udp")
	require.Len(t, resp.Answer, 1)
}

func TestResolve_StripAAAA(t *testing.T) {
	r, _ := newTestResolver(t)
	r.StripAAAA = true

	resp := r.Resolve(query("router.home.", dns.TypeAAAA), "udp")
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestResolve_NoUpstreamNoDoHFallsBackToNXDOMAIN(t *testing.T) {
	r, _ := newTestResolver(t)
	r.FindZone = func(string) *Zone { return nil }

	resp := r.Resolve(query("nowhere.example.", dns.TypeA), "udp")
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestResolver_ForwardPlainFailsWithUpstreamAddrUnset(t *testing.T) {
	r, _ := newTestResolver(t)
	r.FindZone = func(string) *Zone { return nil }
	assert.False(t, r.UpstreamAddr.IsValid())

	_, err := r.forwardPlain(query("example.com.", dns.TypeA), "udp")
	assert.Error(t, err)
}
