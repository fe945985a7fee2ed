package dhcpd

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
)

// pollInterval is how often the listener loop checks its read deadline
// against the stop flag, giving Stop a bound on how long it can block.
const pollInterval = time.Second

// Server is the DHCPv4 server: it owns the lease store, the transaction
// engine, and one UDP/67 listener per configured server address.
type Server struct {
	conf  *Config
	store *Store
	eng   *engine

	conns   []*net.UDPConn
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewServer builds a Server from conf, loading (or creating) its lease
// store.  conf must have been through Config.Init.
func NewServer(conf *Config) (s *Server, err error) {
	if conf == nil {
		return nil, errNilConfig
	}

	store, err := NewStore(conf)
	if err != nil {
		return nil, err
	}

	return &Server{
		conf:  conf,
		store: store,
		eng:   newEngine(conf, store),
	}, nil
}

// Start opens one UDP/67 listener per server_addresses entry and launches
// the lease-store sweeper.  Startup errors — unlike per-packet failures —
// are fatal: if any listener fails to bind, the ones already opened are
// closed and the error is returned.
func (s *Server) Start() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.stop = make(chan struct{})

	for _, addr := range s.conf.ServerAddresses {
		var conn *net.UDPConn
		conn, err = listenDHCP(addr)
		if err != nil {
			s.closeConnsLocked()

			return errors.Annotate(err, "dhcpd: starting listener on %s: %w", addr)
		}

		s.conns = append(s.conns, conn)
	}

	s.store.StartSweeper()

	for _, conn := range s.conns {
		s.wg.Add(1)
		go s.serve(conn)
	}

	s.running = true
	log.Info("dhcpd: started, listening on %v", s.conf.ServerAddresses)

	return nil
}

// listenDHCP binds a UDP socket for receiving client requests on
// (addr, dhcpServerPort), with SO_REUSEADDR so multiple server_addresses
// entries can share the port.
func listenDHCP(addr netip.Addr) (conn *net.UDPConn, err error) {
	return newBroadcastSocket(addr)
}

// serve is the per-listener read loop.  It polls its stop flag once per
// pollInterval via the socket's read deadline, so Stop returns within ~1s.
func (s *Server) serve(conn *net.UDPConn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, 1500)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		err := conn.SetReadDeadline(time.Now().Add(pollInterval))
		if err != nil {
			log.Error("dhcpd: setting read deadline: %s", err)

			return
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}

			select {
			case <-s.stop:
				return
			default:
				log.Error("dhcpd: reading packet: %s", err)

				continue
			}
		}

		s.handlePacket(buf[:n])
		s.eng.txns.reap()
	}
}

// handlePacket decodes one inbound frame, makes the (at most one) allocation
// decision it implies, and — if a reply is due — broadcasts a copy from
// every configured server address, each with its own server_identifier.
// Decode failures are BadPacket conditions: logged and dropped, never fatal
// to the listener.
func (s *Server) handlePacket(data []byte) {
	req, err := decodePacket(data)
	if err != nil {
		log.Debug("dhcpd: %s", err)

		return
	}

	d := s.eng.decide(req)
	if !d.send {
		return
	}

	for _, addr := range s.conf.ServerAddresses {
		resp, bErr := buildReply(req, d.msgType, buildParams{
			conf:     s.conf,
			serverIP: addr,
			yiaddr:   d.yiaddr,
		})
		if bErr != nil {
			log.Error("dhcpd: building reply for %s: %s", addr, bErr)

			continue
		}

		if sErr := broadcastReply(addr, resp.ToBytes()); sErr != nil {
			log.Error("dhcpd: %s: broadcasting from %s", sErr, addr)
		}
	}
}

// isTimeout reports whether err is a network read-deadline timeout.
func isTimeout(err error) (ok bool) {
	ne, ok := err.(net.Error)

	return ok && ne.Timeout()
}

// IsAlive reports whether the server's listeners are currently running.
func (s *Server) IsAlive() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Stop closes every listener and the lease sweeper, and waits for all
// workers to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stop)
	s.closeConnsLocked()
	s.wg.Wait()
	s.store.StopSweeper()

	s.running = false
	log.Info("dhcpd: stopped")
}

func (s *Server) closeConnsLocked() {
	for _, conn := range s.conns {
		conn.Close()
	}

	s.conns = nil
}
