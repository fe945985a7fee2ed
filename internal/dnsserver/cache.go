// DNS answer cache (component C6): a TTL-keyed map with a periodic sweeper
// and the spoof-domain detector that fires callbacks on matched answers.

package dnsserver

import (
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// SpoofCallback is invoked once per IPv4 address extracted from each answer
// set stored for a name matching a configured spoof domain.  Addresses are
// not remembered across answers: an address already reported is reported
// again whenever a later matching answer set containing it is stored.
type SpoofCallback func(ip, domain string)

// TickCallback is invoked on every cache sweep tick, e.g. for snapshotting.
type TickCallback func()

// cacheKey identifies a cached answer set by canonical (qname, qtype).
type cacheKey struct {
	qname string
	qtype uint16
}

// cacheEntry is one cached answer set and its absolute expiry.
type cacheEntry struct {
	rrs    []dns.RR
	expiry time.Time
}

// Cache is the TTL-aware DNS answer cache.  Mutations happen under mu;
// callbacks are always dispatched outside the lock.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry

	spoofDomains []string

	spoofMu   sync.Mutex
	spoofCbs  []SpoofCallback
	tickCbs   []TickCallback
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// sweepInterval is the cache-eviction cadence.
const sweepInterval = 10 * time.Second

// NewCache creates an empty answer cache watching for spoofDomains (each a
// fully-qualified domain, e.g. "youtube.com.").
func NewCache(spoofDomains []string) (c *Cache) {
	return &Cache{
		entries:      map[cacheKey]cacheEntry{},
		spoofDomains: spoofDomains,
	}
}

// OnSpoof registers a callback invoked on each matched spoof answer.
func (c *Cache) OnSpoof(cb SpoofCallback) {
	c.spoofMu.Lock()
	defer c.spoofMu.Unlock()

	c.spoofCbs = append(c.spoofCbs, cb)
}

// OnTick registers a callback invoked on every sweep tick.
func (c *Cache) OnTick(cb TickCallback) {
	c.spoofMu.Lock()
	defer c.spoofMu.Unlock()

	c.tickCbs = append(c.tickCbs, cb)
}

// Get returns the cached RRs for (qname, qtype) if present and not expired.
// An expired entry is evicted on the spot and reported as a miss.
func (c *Cache) Get(qname string, qtype uint16) (rrs []dns.RR, ok bool) {
	key := cacheKey{qname: strings.ToLower(dns.Fqdn(qname)), qtype: qtype}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[key]
	if !found {
		return nil, false
	}

	if !time.Now().Before(entry.expiry) {
		delete(c.entries, key)

		return nil, false
	}

	return entry.rrs, true
}

// Set stores rrs for (qname, qtype), with expiry = now + the minimum TTL
// across rrs, then checks qname against the configured spoof domains and
// invokes every registered SpoofCallback once per extracted IPv4 address.
func (c *Cache) Set(qname string, qtype uint16, rrs []dns.RR) {
	if len(rrs) == 0 {
		return
	}

	minTTL := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if ttl := rr.Header().Ttl; ttl < minTTL {
			minTTL = ttl
		}
	}

	key := cacheKey{qname: strings.ToLower(dns.Fqdn(qname)), qtype: qtype}

	c.mu.Lock()
	c.entries[key] = cacheEntry{rrs: rrs, expiry: time.Now().Add(time.Duration(minTTL) * time.Second)}
	c.mu.Unlock()

	c.fireSpoofCallbacks(qname, rrs)
}

// fireSpoofCallbacks checks qname against every configured spoof domain and,
// on a match, invokes each registered callback once per IPv4 address found
// in rrs — directly for A records, and parsed out of ipv4hint SvcParams for
// HTTPS records.
func (c *Cache) fireSpoofCallbacks(qname string, rrs []dns.RR) {
	domain := matchedSpoofDomain(qname, c.spoofDomains)
	if domain == "" {
		return
	}

	var ips []string
	for _, rr := range rrs {
		switch v := rr.(type) {
		case *dns.A:
			ips = append(ips, v.A.String())
		case *dns.HTTPS:
			ips = append(ips, extractIPv4Hints(v)...)
		}
	}

	if len(ips) == 0 {
		return
	}

	c.spoofMu.Lock()
	cbs := append([]SpoofCallback(nil), c.spoofCbs...)
	c.spoofMu.Unlock()

	for _, ip := range ips {
		for _, cb := range cbs {
			cb(ip, qname)
		}
	}
}

// matchedSpoofDomain returns the configured spoof domain qname matches, or
// "" if none does.
//
// The suffix-with-boundary interpretation is used here rather than bare
// substring containment, so that "notgoogle.com.evil." does not match
// "google.com.": see DESIGN.md for the decision.
func matchedSpoofDomain(qname string, domains []string) (matched string) {
	qname = strings.ToLower(dns.Fqdn(qname))

	for _, d := range domains {
		d = strings.ToLower(dns.Fqdn(d))
		if qname == d || strings.HasSuffix(qname, "."+d) {
			return d
		}
	}

	return ""
}

// StartSweeper launches the background eviction worker: every tick it runs
// the registered tick callbacks, then deletes every expired entry. It polls
// its stop flag once per second so Stop returns within ~1s.
func (c *Cache) StartSweeper() {
	c.sweepStop = make(chan struct{})
	c.sweepDone = make(chan struct{})

	go func() {
		defer close(c.sweepDone)

		ticks := int(sweepInterval / time.Second)

		for {
			for i := 0; i < ticks; i++ {
				select {
				case <-time.After(time.Second):
				case <-c.sweepStop:
					return
				}
			}

			c.sweep()
		}
	}()
}

// sweep runs tick callbacks then evicts every expired entry.  Each tick gets
// its own id purely so a debug log line can correlate "tick fired" with
// "entries evicted" across a burst of sweeps in the logs.
func (c *Cache) sweep() {
	tickID := uuid.New()

	c.spoofMu.Lock()
	cbs := append([]TickCallback(nil), c.tickCbs...)
	c.spoofMu.Unlock()

	for _, cb := range cbs {
		cb()
	}

	log.Debug("dnsserver: sweep tick %s", tickID)

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if !now.Before(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

// StopSweeper stops the background eviction worker and waits for it to
// exit.
func (c *Cache) StopSweeper() {
	if c.sweepStop == nil {
		return
	}

	close(c.sweepStop)
	<-c.sweepDone
}
