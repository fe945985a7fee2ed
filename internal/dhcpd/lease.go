package dhcpd

import (
	"net"
	"net/netip"
	"strings"
	"time"
)

// unknownHostname is the placeholder hostname assigned to clients that don't
// send one, matching the original implementation's "UnknownName" literal.
const unknownHostname = "UnknownName"

// Host is a lease record: the binding between a client's hardware address and
// the IPv4 address it has been assigned.  MAC is the identity key.
type Host struct {
	// MAC is the colon-separated, upper-hex hardware address, e.g.
	// "AA:BB:CC:DD:EE:FF".
	MAC string

	// IP is the leased address.  It may be the zero value for a client that
	// only ever sent INFORM.
	IP netip.Addr

	// Hostname is the client-supplied hostname, or unknownHostname if none
	// was given.
	Hostname string

	// LastUsed is the UNIX second at which this lease was last refreshed. A
	// value of 0 marks a static reservation that background expiry never
	// touches.
	LastUsed int64
}

// normalizeMAC upper-cases and colon-separates a hardware address string.
func normalizeMAC(mac net.HardwareAddr) (s string) {
	return strings.ToUpper(mac.String())
}

// newHost builds a Host from request fields, defaulting an empty hostname to
// unknownHostname.
func newHost(mac net.HardwareAddr, ip netip.Addr, hostname string, now time.Time) (h *Host) {
	if hostname == "" {
		hostname = unknownHostname
	}

	return &Host{
		MAC:      normalizeMAC(mac),
		IP:       ip,
		Hostname: hostname,
		LastUsed: now.Unix(),
	}
}

// IsStatic reports whether h is a static reservation that background expiry
// must never delete.
func (h *Host) IsStatic() (ok bool) {
	return h.LastUsed == 0
}

// expired reports whether h's lease has outlived leaseTime as of now.
func (h *Host) expired(now time.Time, leaseTime time.Duration) (ok bool) {
	if h.IsStatic() {
		return false
	}

	return now.Unix()-h.LastUsed > int64(leaseTime/time.Second)
}
