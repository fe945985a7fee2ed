package dhcpd

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sys/unix"
)

// dhcpClientPort is the port DHCP clients listen on.
const dhcpClientPort = 68

// dhcpServerPort is the port this server binds for receiving client
// requests.
const dhcpServerPort = 67

// broadcastReply sends frame from addr to both the limited broadcast address
// and addr itself on the client port, covering unicast renewals from clients
// on the same host.  A socket is opened, configured with SO_REUSEADDR and
// SO_BROADCAST, and closed again within this one call, on every exit path.
//
// A failure to open the socket is returned as a SocketError: the caller logs
// and moves on to the next server_addresses entry rather than aborting the
// whole send.  A failed send to either destination is logged here and not
// returned.
func broadcastReply(addr netip.Addr, frame []byte) (err error) {
	conn, err := newBroadcastSocket(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpClientPort}
	if _, err = conn.WriteToUDP(frame, dst); err != nil {
		log.Error("dhcpd: broadcast to %s: %s", dst, err)
	}

	unicastDst := &net.UDPAddr{IP: addr.AsSlice(), Port: dhcpClientPort}
	if _, err = conn.WriteToUDP(frame, unicastDst); err != nil {
		log.Error("dhcpd: broadcast to %s: %s", unicastDst, err)
	}

	return nil
}

// newBroadcastSocket opens a UDP socket bound to (addr, dhcpServerPort) with
// SO_REUSEADDR and SO_BROADCAST set, so the same port can be shared by
// multiple server_addresses entries and outbound packets may target the
// limited broadcast address.
func newBroadcastSocket(addr netip.Addr) (conn *net.UDPConn, err error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) (ctrlErr error) {
			c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if ctrlErr != nil {
					return
				}

				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})

			return ctrlErr
		},
	}

	addrPort := net.JoinHostPort(addr.String(), strconv.Itoa(dhcpServerPort))
	pc, err := lc.ListenPacket(context.Background(), "udp4", addrPort)
	if err != nil {
		return nil, err
	}

	return pc.(*net.UDPConn), nil
}
