package dnsserver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRR_A(t *testing.T) {
	rr, err := buildRR(Record{Name: "router.home.", Type: dns.TypeA, TTL: 3600, RData: "10.47.0.1"})
	require.NoError(t, err)

	a, ok := rr.(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.47.0.1", a.A.String())
	assert.Equal(t, uint32(3600), a.Hdr.Ttl)
}

func TestBuildRR_InvalidA(t *testing.T) {
	_, err := buildRR(Record{Name: "router.home.", Type: dns.TypeA, RData: "not-an-ip"})
	assert.Error(t, err)
}

func TestBuildRR_SOAUnsupported(t *testing.T) {
	_, err := buildRR(Record{Name: "home.", Type: dns.TypeSOA})
	assert.Error(t, err)
}

func TestBuildRR_Unsupported(t *testing.T) {
	_, err := buildRR(Record{Name: "home.", Type: dns.TypeMX})
	assert.Error(t, err)
}

func TestNxdomain_AttachesSOA(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("ghost.home.", dns.TypeA)

	zone := NewZone("home.", testSOA())

	resp := nxdomain(req, zone)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Len(t, resp.Ns, 1)

	soa, ok := resp.Ns[0].(*dns.SOA)
	require.True(t, ok)
	assert.Equal(t, "ns1.home.", soa.Ns)
}

func TestExtractIPv4Hints(t *testing.T) {
	kv := &dns.SVCBIPv4Hint{Hint: []net.IP{net.ParseIP("10.47.0.1").To4()}}

	https := &dns.HTTPS{
		Hdr:  hdr("home.", dns.TypeHTTPS, 3600),
		SVCB: dns.SVCB{Value: []dns.SVCBKeyValue{kv}},
	}

	ips := extractIPv4Hints(https)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.47.0.1", ips[0])
}
