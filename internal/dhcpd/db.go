// On-disk database for the lease table.

package dhcpd

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/google/renameio/v2/maybe"
)

// defaultPermFile is the permission bits the lease database is written with.
const defaultPermFile = 0o644

// dbDocument is the on-disk JSON shape of the lease database:
//
//	{
//	  "index": {"ip": {"10.47.0.23": "AA:BB:CC:DD:EE:FF", …}},
//	  "devices": {"AA:BB:CC:DD:EE:FF": ["AA:BB:CC:DD:EE:FF", "10.47.0.23", "laptop", "1700000000"], …}
//	}
type dbDocument struct {
	Index   dbIndex              `json:"index"`
	Devices map[string]dbDevice4 `json:"devices"`
}

// dbIndex holds the secondary IP→MAC index.
type dbIndex struct {
	IP map[string]string `json:"ip"`
}

// dbDevice4 is the 4-tuple [mac, ip, hostname, last_used] form a Host is
// serialized as.
type dbDevice4 [4]string

// toHost converts a stored 4-tuple to a *Host.
func (d dbDevice4) toHost() (h *Host, err error) {
	mac, ipStr, hostname, lastUsedStr := d[0], d[1], d[2], d[3]

	var ip netip.Addr
	if ipStr != "" {
		ip, err = netip.ParseAddr(ipStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ip %q: %w", ipStr, err)
		}
	}

	lastUsed, err := strconv.ParseInt(lastUsedStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used %q: %w", lastUsedStr, err)
	}

	return &Host{
		MAC:      mac,
		IP:       ip,
		Hostname: hostname,
		LastUsed: lastUsed,
	}, nil
}

// fromHost converts h to its 4-tuple wire form.
func fromHost(h *Host) (d dbDevice4) {
	var ipStr string
	if h.IP.IsValid() {
		ipStr = h.IP.String()
	}

	return dbDevice4{h.MAC, ipStr, h.Hostname, strconv.FormatInt(h.LastUsed, 10)}
}

// dbLoad reads the lease database at path.  A missing file is not an error:
// the store starts empty, matching the original's "create on first write"
// behavior.
func dbLoad(path string) (hosts []*Host, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading lease db: %w", err)
	}

	doc := &dbDocument{}
	err = json.Unmarshal(data, doc)
	if err != nil {
		return nil, fmt.Errorf("decoding lease db: %w", err)
	}

	for mac, d := range doc.Devices {
		var h *Host
		h, err = d.toHost()
		if err != nil {
			log.Info("dhcp: skipping invalid lease for %s: %s", mac, err)

			continue
		}

		hosts = append(hosts, h)
	}

	log.Info("dhcp: loaded %d leases from %q", len(hosts), path)

	return hosts, nil
}

// dbStore writes hosts to path atomically (write-then-rename), matching the
// "written atomically after every mutation" persistence policy.
func dbStore(path string, hosts map[string]*Host) (err error) {
	defer func() { err = errors.Annotate(err, "writing lease db: %w") }()

	doc := &dbDocument{
		Index:   dbIndex{IP: map[string]string{}},
		Devices: map[string]dbDevice4{},
	}

	for mac, h := range hosts {
		doc.Devices[mac] = fromHost(h)
		if h.IP.IsValid() {
			doc.Index.IP[h.IP.String()] = mac
		}
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	err = maybe.WriteFile(path, buf, defaultPermFile)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	return nil
}
