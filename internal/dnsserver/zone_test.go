package dnsserver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSOA() (soa SOA) {
	return SOA{NS: "ns1.home.", Admin: "hostmaster@home.", Serial: 1, Refresh: 3600, Retry: 600, Expire: 86400, Minimum: 300}
}

func TestNormalizeAdmin(t *testing.T) {
	assert.Equal(t, "hostmaster.home.", NormalizeAdmin("hostmaster@home."))
}

func TestZone_AddRecordAndFind(t *testing.T) {
	z := NewZone("home.", testSOA())

	require.NoError(t, z.AddRecord(Record{Name: "router", Type: dns.TypeA, TTL: 3600, RData: "10.47.0.1"}))
	require.NoError(t, z.AddRecord(Record{Name: "@", Type: dns.TypeA, TTL: 3600, RData: "10.47.0.254"}))

	matches, hasName := z.Find("router.home.", dns.TypeA)
	require.True(t, hasName)
	require.Len(t, matches, 1)
	assert.Equal(t, "10.47.0.1", matches[0].RData)

	matches, hasName = z.Find("router.home.", dns.TypeAAAA)
	assert.True(t, hasName)
	assert.Empty(t, matches)

	matches, hasName = z.Find("ghost.home.", dns.TypeA)
	assert.False(t, hasName)
	assert.Empty(t, matches)

	matches, _ = z.Find("home.", dns.TypeA)
	require.Len(t, matches, 1)
	assert.Equal(t, "10.47.0.254", matches[0].RData)
}

func TestZone_AddRecordOutsideOrigin(t *testing.T) {
	z := NewZone("home.", testSOA())

	err := z.AddRecord(Record{Name: "router.elsewhere.", Type: dns.TypeA, RData: "10.47.0.1"})
	assert.Error(t, err)
}

func TestZone_CNAMEExpandsAt(t *testing.T) {
	z := NewZone("home.", testSOA())

	require.NoError(t, z.AddRecord(Record{Name: "alias", Type: dns.TypeCNAME, RData: "@"}))

	matches, _ := z.Find("alias.home.", dns.TypeCNAME)
	require.Len(t, matches, 1)
	assert.Equal(t, "home.", matches[0].RData)
}

func TestPTRZone_FindRoundTrip(t *testing.T) {
	z := NewPTRZone("10.47.0")
	z.AddHost("23", "desktop.home.")

	label := z.reverseLabel("23")
	assert.Equal(t, "23.0.47.10.in-addr.arpa.", label)

	targets := z.Find(label)
	require.Len(t, targets, 1)
	assert.Equal(t, "desktop.home.", targets[0])

	assert.Empty(t, z.Find("99.0.47.10.in-addr.arpa."))
}
