package dhcpd

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
)

// Store is the MAC-indexed lease store.  It keeps an in-memory map plus a
// secondary IP→MAC index, and persists the whole table to DataFile after
// every mutation.
//
// All mutations take the same mutex; persistence happens inside the lock so
// that the on-disk file is never observed out of sync with memory.
type Store struct {
	mu   sync.Mutex
	conf *Config

	byMAC map[string]*Host
	byIP  map[string]string // ip string -> MAC

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewStore creates a Store backed by conf.DataFile, loading any
// previously-persisted leases.  conf must have been through Config.Init.
func NewStore(conf *Config) (s *Store, err error) {
	hosts, err := dbLoad(conf.DataFile)
	if err != nil {
		return nil, fmt.Errorf("dhcpd: loading lease store: %w", err)
	}

	s = &Store{
		conf:  conf,
		byMAC: map[string]*Host{},
		byIP:  map[string]string{},
	}

	for _, h := range hosts {
		s.byMAC[h.MAC] = h
		if h.IP.IsValid() {
			s.byIP[h.IP.String()] = h.MAC
		}
	}

	return s, nil
}

// persistLocked writes the current table to disk.  Caller must hold s.mu.
func (s *Store) persistLocked() {
	err := dbStore(s.conf.DataFile, s.byMAC)
	if err != nil {
		// Log and keep running with in-memory state; persistence failures
		// must not bring the server down.
		log.Error("dhcpd: %s: %s", ErrPersistence, err)
	}
}

// Get looks up a Host by MAC, or by IP via the secondary index if mac is
// empty.  It returns nil if no record matches.
func (s *Store) Get(ip netip.Addr, mac string) (h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(ip, mac)
}

func (s *Store) getLocked(ip netip.Addr, mac string) (h *Host) {
	if mac == "" {
		if !ip.IsValid() {
			return nil
		}

		var ok bool
		mac, ok = s.byIP[ip.String()]
		if !ok {
			return nil
		}
	}

	return s.byMAC[mac]
}

// Add inserts or overwrites h, updating both indexes, then persists.
func (s *Store) Add(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addLocked(h)
	s.persistLocked()
}

func (s *Store) addLocked(h *Host) {
	if old, ok := s.byMAC[h.MAC]; ok && old.IP.IsValid() {
		delete(s.byIP, old.IP.String())
	}

	s.byMAC[h.MAC] = h
	if h.IP.IsValid() {
		s.byIP[h.IP.String()] = h.MAC
	}
}

// Delete removes h's MAC and, if present, its IP from both indexes, then
// persists.
func (s *Store) Delete(h *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(h)
	s.persistLocked()
}

func (s *Store) deleteLocked(h *Host) {
	if h.IP.IsValid() {
		delete(s.byIP, h.IP.String())
	}

	delete(s.byMAC, h.MAC)
}

// Replace removes old and inserts replacement, persisting only once.
func (s *Store) Replace(old, replacement *Host) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(old)
	s.addLocked(replacement)
	s.persistLocked()
}

// All returns a snapshot of every Host currently in the store.
func (s *Store) All() (hosts []*Host) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hosts = make([]*Host, 0, len(s.byMAC))
	for _, h := range s.byMAC {
		hosts = append(hosts, h)
	}

	return hosts
}

// maxAllocateAttempts bounds the random-retry loop in findFreeAddressLocked.
// The original implementation recurses unboundedly on collision and only
// gives up when the index is full; a bounded loop gets the same policy
// without risking a Go stack blowup on a pathologically full range.
const maxAllocateAttempts = 4096

// findFreeAddressLocked draws a uniformly random address from the configured
// range, retrying on collision.
func (s *Store) findFreeAddressLocked() (ip netip.Addr, err error) {
	if uint64(len(s.byIP)) >= s.conf.RangeLen() {
		return netip.Addr{}, ErrRangeExhausted
	}

	for i := 0; i < maxAllocateAttempts; i++ {
		candidate := s.conf.RandomIP()
		if _, taken := s.byIP[candidate.String()]; !taken {
			return candidate, nil
		}
	}

	return netip.Addr{}, ErrRangeExhausted
}

// FindOrRegister implements the DHCP allocation policy:
//
//  1. If mac already has a Host: if its IP is still in range, refresh
//     last_used and return it; otherwise delete the stale record and retry.
//  2. Else if requestedIP is in range and free, bind mac to it.
//  3. Else pick a free IP at random from the configured range.
//
// It returns the zero Addr and ErrRangeExhausted if the range is full.
func (s *Store) FindOrRegister(
	mac net.HardwareAddr,
	requestedIP netip.Addr,
	hostname string,
) (ip netip.Addr, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	macStr := normalizeMAC(mac)

	for {
		if h := s.byMAC[macStr]; h != nil {
			if s.conf.InRange(h.IP) {
				h.LastUsed = time.Now().Unix()
				s.persistLocked()

				log.Info("dhcpd: known device: %s @ %s", h.MAC, h.IP)

				return h.IP, nil
			}

			log.Info("dhcpd: %s has stale ip %s, re-registering", h.MAC, h.IP)
			s.deleteLocked(h)

			continue
		}

		break
	}

	var chosen netip.Addr
	if requestedIP.IsValid() && s.conf.InRange(requestedIP) && s.getLocked(requestedIP, "") == nil {
		chosen = requestedIP
		log.Info("dhcpd: new(?) device; ip: %s mac: %s", chosen, macStr)
	} else {
		chosen, err = s.findFreeAddressLocked()
		if err != nil {
			return netip.Addr{}, err
		}

		log.Info("dhcpd: new device; ip: %s mac: %s", chosen, macStr)
	}

	h := newHost(mac, chosen, hostname, time.Now())
	s.addLocked(h)
	s.persistLocked()

	log.Info("dhcpd: device registered: %s", h.MAC)

	return h.IP, nil
}

// sweepInterval returns the background-expiry cadence: leaseTime/10, with a
// 1-second floor.
func sweepInterval(leaseTime time.Duration) (d time.Duration) {
	d = leaseTime / 10
	if d < time.Second {
		d = time.Second
	}

	return d
}

// sweep deletes every non-static Host whose lease has expired.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := false
	for _, h := range s.byMAC {
		if h.expired(now, s.conf.LeaseTime) {
			log.Info("dhcpd: lease expired: %s @ %s", h.MAC, h.IP)
			s.deleteLocked(h)
			changed = true
		}
	}

	if changed {
		s.persistLocked()
	}
}

// StartSweeper launches the background expiry worker. It polls its stop flag
// once per second so Stop returns within ~1s.
func (s *Store) StartSweeper() {
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)

		interval := sweepInterval(s.conf.LeaseTime)
		ticks := int(interval / time.Second)
		if ticks < 1 {
			ticks = 1
		}

		for {
			s.sweep()

			for i := 0; i < ticks; i++ {
				select {
				case <-time.After(time.Second):
				case <-s.sweepStop:
					return
				}
			}
		}
	}()
}

// StopSweeper stops the background expiry worker and waits for it to exit.
func (s *Store) StopSweeper() {
	if s.sweepStop == nil {
		return
	}

	close(s.sweepStop)
	<-s.sweepDone
}
