package dhcpd

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_FreshDiscover covers a DISCOVER from a client the lease store
// has never seen: the engine must allocate an address from the configured
// range and compose an OFFER carrying it plus the lease-time triple.
func TestScenario_FreshDiscover(t *testing.T) {
	conf := &Config{
		Network:         netip.MustParseAddr("10.47.0.0"),
		Netmask:         net.IPv4(255, 255, 255, 0),
		RangeStart:      netip.MustParseAddr("10.47.0.100"),
		RangeEnd:        netip.MustParseAddr("10.47.0.200"),
		Router:          []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		LeaseTime:       300 * time.Second,
		DNSServers:      []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		Broadcast:       netip.MustParseAddr("10.47.0.255"),
		ServerAddresses: []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		DataFile:        t.TempDir() + "/leases.json",
	}
	require.NoError(t, conf.Init())

	store, err := NewStore(conf)
	require.NoError(t, err)
	eng := newEngine(conf, store)

	mac := net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	req, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)

	d := eng.decide(req)
	require.True(t, d.send)
	assert.Equal(t, dhcpv4.MessageTypeOffer, d.msgType)

	rangeR, err := newIPRange(conf.RangeStart, conf.RangeEnd)
	require.NoError(t, err)
	assert.True(t, rangeR.contains(d.yiaddr))

	resp, err := buildReply(req, d.msgType, buildParams{
		conf:     conf,
		serverIP: netip.MustParseAddr("10.47.0.1"),
		yiaddr:   d.yiaddr,
	})
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.MessageTypeOffer, resp.MessageType())
	assert.Equal(t, uint32Bytes(300*time.Second), resp.Options.Get(dhcpv4.OptionIPAddressLeaseTime))
	assert.Equal(t, uint32Bytes(150*time.Second), resp.Options.Get(dhcpv4.OptionRenewTimeValue))
	assert.Equal(t, uint32Bytes(262500*time.Millisecond), resp.Options.Get(dhcpv4.OptionRebindingTimeValue))
	assert.True(t, resp.ServerIdentifier().Equal(net.IPv4(10, 47, 0, 1).To4()))

	got := store.Get(netip.Addr{}, normalizeMAC(mac))
	require.NotNil(t, got)
	assert.Equal(t, d.yiaddr, got.IP)
}

// TestScenario_RequestAfterOffer covers the REQUEST that follows an earlier
// OFFER: the engine must ACK with the same address and close the
// transaction, refreshing last_used.
func TestScenario_RequestAfterOffer(t *testing.T) {
	conf := &Config{
		Network:         netip.MustParseAddr("10.47.0.0"),
		Netmask:         net.IPv4(255, 255, 255, 0),
		RangeStart:      netip.MustParseAddr("10.47.0.100"),
		RangeEnd:        netip.MustParseAddr("10.47.0.200"),
		Router:          []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		LeaseTime:       300 * time.Second,
		ServerAddresses: []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		DataFile:        t.TempDir() + "/leases.json",
	}
	require.NoError(t, conf.Init())

	store, err := NewStore(conf)
	require.NoError(t, err)
	eng := newEngine(conf, store)

	mac := net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	discover, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)

	offered := eng.decide(discover)
	require.True(t, offered.send)

	before := time.Now().Unix()

	request, err := dhcpv4.New(
		dhcpv4.WithTransactionID(discover.TransactionID),
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(offered.yiaddr.AsSlice())),
	)
	require.NoError(t, err)

	d := eng.decide(request)
	require.True(t, d.send)
	assert.Equal(t, dhcpv4.MessageTypeAck, d.msgType)
	assert.Equal(t, offered.yiaddr, d.yiaddr)

	got := store.Get(netip.Addr{}, normalizeMAC(mac))
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, got.LastUsed, before)
}

// TestScenario_LeaseExpiry covers background expiry: a stale lease is
// dropped by the sweeper and its address becomes free for reallocation.
func TestScenario_LeaseExpiry(t *testing.T) {
	conf := &Config{
		Network:         netip.MustParseAddr("10.47.0.0"),
		Netmask:         net.IPv4(255, 255, 255, 0),
		RangeStart:      netip.MustParseAddr("10.47.0.100"),
		RangeEnd:        netip.MustParseAddr("10.47.0.200"),
		LeaseTime:       300 * time.Second,
		ServerAddresses: []netip.Addr{netip.MustParseAddr("10.47.0.1")},
		DataFile:        t.TempDir() + "/leases.json",
	}
	require.NoError(t, conf.Init())

	store, err := NewStore(conf)
	require.NoError(t, err)

	stale := &Host{
		MAC:      "AA:BB:CC:DD:EE:FF",
		IP:       netip.MustParseAddr("10.47.0.150"),
		Hostname: unknownHostname,
		LastUsed: time.Now().Add(-301 * time.Second).Unix(),
	}
	store.Add(stale)

	store.sweep()

	assert.Nil(t, store.Get(netip.Addr{}, "AA:BB:CC:DD:EE:FF"))
	assert.Nil(t, store.Get(netip.MustParseAddr("10.47.0.150"), ""))
}
