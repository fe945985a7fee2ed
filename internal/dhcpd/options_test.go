package dhcpd

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

func testConfig(t *testing.T) (c *Config) {
	t.Helper()

	c = &Config{
		Network:         netip.MustParseAddr("10.47.0.0"),
		Netmask:         net.IPv4(255, 255, 255, 0),
		RangeStart:      netip.MustParseAddr("10.47.0.100"),
		RangeEnd:        netip.MustParseAddr("10.47.0.200"),
		Router:          []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		LeaseTime:       24 * time.Hour,
		DNSServers:      []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		Broadcast:       netip.MustParseAddr("10.47.0.255"),
		ServerAddresses: []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		Domain:          "lan",
		DataFile:        t.TempDir() + "/leases.json",
	}
	require.NoError(t, c.Init())

	return c
}

func testDiscover(t *testing.T, prl ...dhcpv4.OptionCode) (req *dhcpv4.DHCPv4) {
	t.Helper()

	mac := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	req, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)

	if len(prl) > 0 {
		req.UpdateOption(dhcpv4.OptParameterRequestList(prl...))
	}

	return req
}

func TestBuildReply_includesRequestedAndConfiguredOptions(t *testing.T) {
	conf := testConfig(t)
	req := testDiscover(t, dhcpv4.OptionRouter, dhcpv4.OptionDomainNameServer)

	resp, err := buildReply(req, dhcpv4.MessageTypeOffer, buildParams{
		conf:     conf,
		serverIP: netip.MustParseAddr("10.47.0.1"),
		yiaddr:   netip.MustParseAddr("10.47.0.101"),
	})
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.MessageTypeOffer, resp.MessageType())
	assert.True(t, resp.YourIPAddr.Equal(net.IPv4(10, 47, 0, 101).To4()))
	assert.True(t, resp.Options.Has(dhcpv4.OptionRouter))
	assert.True(t, resp.Options.Has(dhcpv4.OptionDomainNameServer))
	assert.True(t, resp.Options.Has(dhcpv4.OptionSubnetMask))
	assert.True(t, resp.Options.Has(dhcpv4.OptionIPAddressLeaseTime))
}

func TestConfiguredOptions_leaseTimeAndRenewal(t *testing.T) {
	conf := testConfig(t)
	opts := configuredOptions(conf)

	lease := opts[uint8(dhcpv4.OptionIPAddressLeaseTime)]
	assert.Equal(t, uint32Bytes(24*time.Hour), lease.Value.ToBytes())

	t1 := opts[uint8(dhcpv4.OptionRenewTimeValue)]
	assert.Equal(t, uint32Bytes(12*time.Hour), t1.Value.ToBytes())
}

func TestRequestedIPAddr(t *testing.T) {
	req := testDiscover(t)
	assert.False(t, requestedIPAddr(req).IsValid())

	req.UpdateOption(dhcpv4.OptRequestedIPAddress(net.IPv4(10, 47, 0, 150)))
	got := requestedIPAddr(req)
	require.True(t, got.IsValid())
	assert.Equal(t, "10.47.0.150", got.String())
}

func TestDecodePacket_badPacket(t *testing.T) {
	_, err := decodePacket([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPacket)
}
