// Wire codec for BOOTP/DHCP frames.  It builds on
// github.com/insomniacslk/dhcp/dhcpv4, the same RFC 2131/2132 implementation
// AdGuardHome's own dhcpd package uses on the wire: decode with
// dhcpv4.FromBytes, build replies with dhcpv4.NewReplyFromRequest plus
// UpdateOption, and let the library's own ToBytes produce RFC-correct bytes
// rather than hand-rolling TLV encoding.

package dhcpd

import (
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// decodePacket decodes a raw BOOTP/DHCP frame.  Any structural failure
// (truncated buffer, bad magic cookie, an option overrunning the buffer) is
// reported as ErrBadPacket.
func decodePacket(data []byte) (p *dhcpv4.DHCPv4, err error) {
	p, err = dhcpv4.FromBytes(data)
	if err != nil {
		return nil, errors.Annotate(ErrBadPacket, "%w: "+err.Error())
	}

	return p, nil
}

// buildParams holds the values a reply's options are computed from.
type buildParams struct {
	conf     *Config
	serverIP netip.Addr
	yiaddr   netip.Addr
}

// buildReply constructs an OFFER or ACK in response to req. xid, flags,
// giaddr and chaddr are copied from the request by
// dhcpv4.NewReplyFromRequest; the remaining options are applied here in the
// same two passes the original implementation's option-building code used:
// the client's parameter_request_list (option 55) first, then whatever else
// the server configures.  Note this ordering only governs which options this
// function writes into resp.Options, not their order on the wire: dhcpv4.
// Options is a map and (*DHCPv4).ToBytes serializes it by ascending option
// code regardless of insertion order, so PRL ordering never reaches the
// encoded frame — see DESIGN.md.
func buildReply(req *dhcpv4.DHCPv4, msgType dhcpv4.MessageType, bp buildParams) (resp *dhcpv4.DHCPv4, err error) {
	resp, err = dhcpv4.NewReplyFromRequest(req)
	if err != nil {
		return nil, errors.Annotate(ErrBadPacket, "building reply: %w")
	}

	resp.YourIPAddr = bp.yiaddr.AsSlice()
	resp.ServerIPAddr = net.IPv4zero
	resp.UpdateOption(dhcpv4.OptMessageType(msgType))
	resp.UpdateOption(dhcpv4.OptServerIdentifier(bp.serverIP.AsSlice()))

	configured := configuredOptions(bp.conf)

	applied := map[uint8]bool{
		uint8(dhcpv4.OptionDHCPMessageType):  true,
		uint8(dhcpv4.OptionServerIdentifier): true,
	}

	// Pass 1: honor the client's wish list first.
	for _, code := range req.ParameterRequestList() {
		if opt, ok := configured[uint8(code)]; ok && !applied[uint8(code)] {
			resp.UpdateOption(opt)
			applied[uint8(code)] = true
		}
	}

	// Pass 2: append everything else the server has configured.
	for code, opt := range configured {
		if !applied[code] {
			resp.UpdateOption(opt)
			applied[code] = true
		}
	}

	return resp, nil
}

// configuredOptions returns every server-side option this codec knows how to
// emit, keyed by option code: subnet mask, router, dns, broadcast, domain,
// lease_time, T1, T2.
func configuredOptions(c *Config) (opts map[uint8]dhcpv4.Option) {
	mask := net.IPMask(net.IP(c.Netmask).To4())

	routers := make([]net.IP, 0, len(c.Router))
	for _, r := range c.Router {
		routers = append(routers, r.AsSlice())
	}

	dnsServers := make([]net.IP, 0, len(c.DNSServers))
	for _, d := range c.DNSServers {
		dnsServers = append(dnsServers, d.AsSlice())
	}

	opts = map[uint8]dhcpv4.Option{
		uint8(dhcpv4.OptionSubnetMask):         dhcpv4.OptSubnetMask(mask),
		uint8(dhcpv4.OptionRouter):             dhcpv4.OptRouter(routers...),
		uint8(dhcpv4.OptionDomainNameServer):   dhcpv4.OptDNS(dnsServers...),
		uint8(dhcpv4.OptionBroadcastAddress):   dhcpv4.OptBroadcastAddress(c.Broadcast.AsSlice()),
		uint8(dhcpv4.OptionIPAddressLeaseTime): dhcpv4.OptIPAddressLeaseTime(c.LeaseTime),
		uint8(dhcpv4.OptionRenewTimeValue):     dhcpv4.OptGeneric(dhcpv4.OptionRenewTimeValue, uint32Bytes(c.T1())),
		uint8(dhcpv4.OptionRebindingTimeValue): dhcpv4.OptGeneric(dhcpv4.OptionRebindingTimeValue, uint32Bytes(c.T2())),
	}

	if c.Domain != "" {
		opts[uint8(dhcpv4.OptionDomainName)] = dhcpv4.OptDomainName(c.Domain)
	}

	return opts
}

// uint32Bytes encodes a duration as a big-endian seconds count, the wire form
// of options 58/59.
func uint32Bytes(d time.Duration) (b []byte) {
	secs := uint32(d / time.Second)

	return []byte{byte(secs >> 24), byte(secs >> 16), byte(secs >> 8), byte(secs)}
}

// requestedIPAddr extracts option 50 (requested_ip) from req, falling back
// to its ciaddr.
func requestedIPAddr(req *dhcpv4.DHCPv4) (ip netip.Addr) {
	if reqIP := req.Options.Get(dhcpv4.OptionRequestedIPAddress); len(reqIP) == 4 {
		return netip.AddrFrom4([4]byte(reqIP))
	}

	if ci := req.ClientIPAddr; ci != nil && !ci.IsUnspecified() {
		if ci4 := ci.To4(); ci4 != nil {
			return netip.AddrFrom4([4]byte(ci4))
		}
	}

	return netip.Addr{}
}

// hostnameOf extracts option 12 (host_name), or "" if absent.
func hostnameOf(req *dhcpv4.DHCPv4) (name string) {
	return req.HostName()
}
