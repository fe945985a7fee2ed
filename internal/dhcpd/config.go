package dhcpd

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Config is the configuration for the DHCPv4 server.  It is built and
// validated by an external loader; Init derives the fields the rest of the
// package relies on.
type Config struct {
	// Network is the network address of the served subnet, e.g. 10.47.0.0.
	Network netip.Addr

	// Netmask is the dotted-quad subnet mask for Network.
	Netmask net.IP

	// RangeStart and RangeEnd bound the dynamic allocation range, inclusive.
	RangeStart netip.Addr
	RangeEnd   netip.Addr

	// Router is the set of IPv4 addresses handed out as DHCP option 3.
	Router []netip.Addr

	// LeaseTime is the lease duration handed to clients in option 51.  T1/T2
	// (options 58/59) are derived from it: T1 = 0.5×LeaseTime, T2 =
	// 0.875×LeaseTime.
	LeaseTime time.Duration

	// DNSServers is the set of IPv4 addresses handed out as option 6.
	DNSServers []netip.Addr

	// Broadcast is the broadcast address of the served subnet, option 28.
	Broadcast netip.Addr

	// ServerAddresses is the set of local interface addresses the server
	// binds :67 on and broadcasts replies from.
	ServerAddresses []netip.Addr

	// Domain is the domain name handed out as option 15.
	Domain string

	// DataFile is the path of the JSON lease database.
	DataFile string

	// AllowReleaseDecline enables honoring client RELEASE/DECLINE messages by
	// freeing the lease.  The original implementation never acted on these
	// message types; see DESIGN.md for the decision to add minimal support
	// behind this flag.
	AllowReleaseDecline bool

	// derived fields, computed by Init.

	prefixLen int
	subnet    netip.Prefix
	ipRange   *ipRange
}

// errNilConfig is returned by validation methods when passed a nil config.
const errNilConfig errors.Error = "nil config"

// Init validates c and computes its derived fields (netmask prefix length,
// subnet, and the parsed dynamic range).  It must be called once before the
// config is passed to NewStore or NewServer.
func (c *Config) Init() (err error) {
	defer func() { err = errors.Annotate(err, "dhcpd: config: %w") }()

	if c == nil {
		return errNilConfig
	}

	if !c.Network.Is4() {
		return fmt.Errorf("network %v is not an ipv4 address", c.Network)
	}

	c.subnet, err = subnetFromNetmask(c.Network, c.Netmask)
	if err != nil {
		return fmt.Errorf("deriving subnet: %w", err)
	}
	c.prefixLen = c.subnet.Bits()

	c.ipRange, err = newIPRange(c.RangeStart, c.RangeEnd)
	if err != nil {
		return fmt.Errorf("dhcp range: %w", err)
	}

	if !c.subnet.Contains(c.RangeStart) || !c.subnet.Contains(c.RangeEnd) {
		return fmt.Errorf("dhcp range %s-%s is outside network %s", c.RangeStart, c.RangeEnd, c.subnet)
	}

	if len(c.ServerAddresses) == 0 {
		return fmt.Errorf("server_addresses must not be empty")
	}

	if c.LeaseTime <= 0 {
		return fmt.Errorf("lease_time must be positive")
	}

	return nil
}

// InRange reports whether ip falls within the configured dynamic range.
func (c *Config) InRange(ip netip.Addr) (ok bool) {
	return c.ipRange.contains(ip)
}

// RangeLen returns the number of addresses in the configured dynamic range.
func (c *Config) RangeLen() (n uint64) {
	return c.ipRange.length()
}

// RandomIP draws a uniformly random address from the configured dynamic
// range.  It does not check for collisions; that's the lease store's job.
func (c *Config) RandomIP() (ip netip.Addr) {
	return c.ipRange.random()
}

// T1 and T2 return the renewal (option 58) and rebinding (option 59) times
// derived from LeaseTime.
func (c *Config) T1() time.Duration { return time.Duration(float64(c.LeaseTime) * 0.5) }
func (c *Config) T2() time.Duration { return time.Duration(float64(c.LeaseTime) * 0.875) }
