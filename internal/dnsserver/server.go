// DNS server (component C8): UDP and TCP listeners on port 53, each in its
// own worker, dispatching every request to the resolver.

package dnsserver

import (
	"net"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// Server binds UDP and TCP listeners and hands every request to Resolver.
type Server struct {
	Addr     string
	Resolver *Resolver
	Cache    *Cache

	udp *dns.Server
	tcp *dns.Server

	mu      sync.Mutex
	running bool
}

// Start launches the UDP and TCP listeners, each in its own goroutine, plus
// the answer cache's sweeper.
func (s *Server) Start() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	s.udp = &dns.Server{Addr: s.Addr, Net: "udp", Handler: mux}
	s.tcp = &dns.Server{Addr: s.Addr, Net: "tcp", Handler: mux}

	errCh := make(chan error, 2)

	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	s.Cache.StartSweeper()
	s.running = true

	log.Info("dnsserver: started, listening on %s (udp+tcp)", s.Addr)

	go func() {
		for i := 0; i < 2; i++ {
			if lErr := <-errCh; lErr != nil {
				log.Error("dnsserver: listener exited: %s", lErr)
			}
		}
	}()

	return nil
}

// handle is the dns.Handler entry point for both listeners. w.RemoteAddr's
// network determines which transport the plain-upstream fallback, if
// triggered, must use.
func (s *Server) handle(w dns.ResponseWriter, req *dns.Msg) {
	proto := "udp"
	if _, ok := w.RemoteAddr().(*net.TCPAddr); ok {
		proto = "tcp"
	}

	resp := s.Resolver.Resolve(req, proto)

	if err := w.WriteMsg(resp); err != nil {
		log.Error("dnsserver: writing reply to %s: %s", w.RemoteAddr(), err)
	}
}

// IsAlive reports whether the server's listeners are running.
func (s *Server) IsAlive() (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Stop shuts down both listeners and joins the cache sweeper.
func (s *Server) Stop() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if uErr := s.udp.Shutdown(); uErr != nil {
		err = uErr
	}

	if tErr := s.tcp.Shutdown(); tErr != nil && err == nil {
		err = tErr
	}

	s.Cache.StopSweeper()
	s.running = false

	log.Info("dnsserver: stopped")

	return err
}
