package dnsserver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProviders_NamesUnique(t *testing.T) {
	providers := DefaultProviders()
	require.Len(t, providers, 11)

	seen := map[string]bool{}
	for _, p := range providers {
		assert.False(t, seen[p.Name], "duplicate provider name %q", p.Name)
		seen[p.Name] = true
		assert.True(t, p.Bootstrap.IsValid())
		assert.NotEmpty(t, p.Host)
	}
}

func TestClient_ResolveRaw_UnknownProvider(t *testing.T) {
	c := &Client{providers: map[string]*Provider{}}

	_, _, err := c.ResolveRaw("nonexistent", "example.com.", dns.TypeA)
	assert.ErrorIs(t, err, ErrProviderNotExist)
}

func TestRdataText(t *testing.T) {
	a := &dns.A{A: []byte{10, 47, 0, 1}}
	assert.Equal(t, "10.47.0.1", rdataText(a))

	cname := &dns.CNAME{Target: "home."}
	assert.Equal(t, "home.", rdataText(cname))
}

func TestSystemLookupA_NoSuchHost(t *testing.T) {
	ips := systemLookupA("this-host-should-not-resolve.invalid")
	assert.Empty(t, ips)
}
