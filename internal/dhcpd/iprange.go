package dhcpd

import (
	"fmt"
	"math/rand"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// ipRange is an inclusive range of IPv4 addresses, stored as the host-order
// 32-bit integer form of its bounds.  A nil range contains no addresses.
//
// DHCPv6 is out of scope here, so unlike the teacher's big.Int-based range
// this one is plain uint32 arithmetic.
//
// It is safe for concurrent use, since it is immutable after construction.
type ipRange struct {
	start uint32
	end   uint32
}

// newIPRange creates a new IPv4 address range.  start must be less than or
// equal to end.
func newIPRange(start, end netip.Addr) (r *ipRange, err error) {
	defer func() { err = errors.Annotate(err, "invalid ip range: %w") }()

	if !start.Is4() || !end.Is4() {
		return nil, fmt.Errorf("range bounds must be ipv4")
	}

	s := ip4ToUint32(start)
	e := ip4ToUint32(end)
	if s > e {
		return nil, fmt.Errorf("start is greater than end")
	}

	return &ipRange{start: s, end: e}, nil
}

// ip4ToUint32 converts a 4-byte address to its big-endian uint32 form.
func ip4ToUint32(a netip.Addr) (n uint32) {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// uint32ToIP4 is the inverse of ip4ToUint32.
func uint32ToIP4(n uint32) (a netip.Addr) {
	return netip.AddrFrom4([4]byte{
		byte(n >> 24),
		byte(n >> 16),
		byte(n >> 8),
		byte(n),
	})
}

// contains returns true if r contains ip.
func (r *ipRange) contains(ip netip.Addr) (ok bool) {
	if r == nil || !ip.Is4() {
		return false
	}

	n := ip4ToUint32(ip)

	return n >= r.start && n <= r.end
}

// length returns the number of addresses in r, inclusive of both bounds.
func (r *ipRange) length() (n uint64) {
	if r == nil {
		return 0
	}

	return uint64(r.end-r.start) + 1
}

// random returns a uniformly distributed address from r.  Callers must check
// length() first; random panics if called on a nil range.
func (r *ipRange) random() (ip netip.Addr) {
	span := r.end - r.start
	var offset uint32
	if span > 0 {
		offset = rand.Uint32() % (span + 1)
	}

	return uint32ToIP4(r.start + offset)
}

// String implements the fmt.Stringer interface for *ipRange.
func (r *ipRange) String() (s string) {
	if r == nil {
		return "<empty>"
	}

	return fmt.Sprintf("%s-%s", uint32ToIP4(r.start), uint32ToIP4(r.end))
}

// subnetFromNetmask derives a netip.Prefix from a network address and
// dotted-quad netmask, matching the way the original configuration accepted
// a separate netmask field rather than CIDR notation.
func subnetFromNetmask(network netip.Addr, netmask net.IP) (p netip.Prefix, err error) {
	m := netmask.To4()
	if m == nil {
		return netip.Prefix{}, fmt.Errorf("invalid netmask %s", netmask)
	}

	ones, bits := net.IPMask(m).Size()
	if bits != 32 {
		return netip.Prefix{}, fmt.Errorf("invalid netmask %s", netmask)
	}

	return network.Prefix(ones)
}
