package dhcpd

import "github.com/AdguardTeam/golibs/errors"

// ErrBadPacket is returned when a BOOTP/DHCP frame cannot be decoded: it is
// truncated, carries the wrong magic cookie, or its options overrun the
// buffer.  Callers must drop the packet and keep serving; decode failures
// never bring a worker down.
const ErrBadPacket errors.Error = "bad dhcp packet"

// ErrRangeExhausted is returned by the lease store when every address in the
// configured dynamic range is already allocated.
const ErrRangeExhausted errors.Error = "dhcp range exhausted"

// ErrPersistence wraps a failure to write the lease database to disk.  The
// in-memory lease table stays authoritative; the caller logs and continues.
const ErrPersistence errors.Error = "lease persistence error"
