package dhcpd

import (
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// transactionLifetime bounds how long a Transaction stays open, counted from
// its start, before the reaper drops it.
const transactionLifetime = 40 * time.Second

// transactionState is the lifecycle of a Transaction.
type transactionState int

const (
	transactionOpen transactionState = iota
	transactionClosed
)

// transaction tracks one DHCP conversation, keyed by its xid.  A client may
// send several packets (DISCOVER, then REQUEST) against the same xid before
// it closes.
type transaction struct {
	xid          dhcpv4.TransactionID
	start        time.Time
	lastActivity time.Time
	state        transactionState
}

// transactionTable is the xid→transaction map the engine consults to decide
// whether a packet starts a new conversation or continues one.
type transactionTable struct {
	mu   sync.Mutex
	byID map[dhcpv4.TransactionID]*transaction
}

func newTransactionTable() (t *transactionTable) {
	return &transactionTable{byID: map[dhcpv4.TransactionID]*transaction{}}
}

// open returns the transaction for xid, creating it if this is the first
// packet seen for that xid.
func (t *transactionTable) open(xid dhcpv4.TransactionID) (tr *transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if tr = t.byID[xid]; tr != nil {
		tr.lastActivity = now

		return tr
	}

	tr = &transaction{xid: xid, start: now, lastActivity: now, state: transactionOpen}
	t.byID[xid] = tr

	return tr
}

// close transitions tr to the Closed state.
func (t *transactionTable) close(tr *transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr.state = transactionClosed
}

// reap drops every transaction that is closed or has outlived
// transactionLifetime since its start, per the 40s deadline.
func (t *transactionTable) reap() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for xid, tr := range t.byID {
		if tr.state == transactionClosed || now.Sub(tr.start) > transactionLifetime {
			delete(t.byID, xid)
		}
	}
}

// engine is the DHCP transaction engine (component C3): it routes inbound
// client packets by message type, consults the lease store for IP
// selection, and composes the OFFER/ACK replies that the server broadcasts.
type engine struct {
	conf  *Config
	store *Store
	txns  *transactionTable
}

func newEngine(conf *Config, store *Store) (e *engine) {
	return &engine{conf: conf, store: store, txns: newTransactionTable()}
}

// decision is the outcome of routing one inbound client packet: either
// nothing is to be sent (send == false), or a reply of type msgType with
// yiaddr should be broadcast from every configured server address.
type decision struct {
	msgType dhcpv4.MessageType
	yiaddr  netip.Addr
	send    bool
}

// decide routes req by DHCP message type and performs the one allocation
// decision (or lease mutation) it implies.  The lease store and transaction
// table are only touched here, once per packet; building the wire reply for
// each server_addresses entry happens separately in buildReply so that a
// multi-homed server broadcasts the same decision from every interface
// instead of re-running allocation per interface.
func (e *engine) decide(req *dhcpv4.DHCPv4) (d decision) {
	if req.OpCode != dhcpv4.OpcodeBootRequest {
		return decision{}
	}

	tr := e.txns.open(req.TransactionID)
	mt := req.MessageType()
	mac := req.ClientHWAddr

	switch mt {
	case dhcpv4.MessageTypeDiscover:
		ip, err := e.store.FindOrRegister(mac, requestedIPAddr(req), hostnameOf(req))
		if err != nil {
			log.Info("dhcpd: %s: discover from %s dropped", err, mac)

			return decision{}
		}

		return decision{msgType: dhcpv4.MessageTypeOffer, yiaddr: ip, send: true}
	case dhcpv4.MessageTypeRequest:
		defer e.txns.close(tr)

		ip, err := e.store.FindOrRegister(mac, requestedIPAddr(req), hostnameOf(req))
		if err != nil {
			log.Info("dhcpd: %s: request from %s dropped", err, mac)

			return decision{}
		}

		return decision{msgType: dhcpv4.MessageTypeAck, yiaddr: ip, send: true}
	case dhcpv4.MessageTypeInform:
		e.handleInform(req, tr)

		return decision{}
	case dhcpv4.MessageTypeRelease, dhcpv4.MessageTypeDecline:
		e.handleReleaseOrDecline(req, tr)

		return decision{}
	default:
		log.Debug("dhcpd: ignoring message type %s for xid %s", mt, req.TransactionID)

		return decision{}
	}
}

func (e *engine) handleInform(req *dhcpv4.DHCPv4, tr *transaction) {
	log.Debug("dhcpd: inform from %s", req.ClientHWAddr)

	mac := req.ClientHWAddr
	if e.store.Get(netip.Addr{}, normalizeMAC(mac)) == nil {
		e.store.Add(newHost(mac, netip.Addr{}, hostnameOf(req), time.Now()))
	}

	e.txns.close(tr)
}

func (e *engine) handleReleaseOrDecline(req *dhcpv4.DHCPv4, tr *transaction) {
	e.txns.close(tr)

	if !e.conf.AllowReleaseDecline {
		return
	}

	mac := req.ClientHWAddr
	if h := e.store.Get(netip.Addr{}, normalizeMAC(mac)); h != nil {
		e.store.Delete(h)
		log.Info("dhcpd: released lease for %s", mac)
	}
}
