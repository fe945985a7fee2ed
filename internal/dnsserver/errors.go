package dnsserver

import "github.com/AdguardTeam/golibs/errors"

// ErrQueryFailed is returned by a DoH provider when a query gets an RCODE
// other than NOERROR, or when every bootstrap IP has been exhausted without
// a successful transport round trip.
const ErrQueryFailed errors.Error = "dns query failed"

// ErrUpstreamTimeout is returned by the plain-UDP/TCP upstream fallback when
// no reply arrives before its deadline, or the exchange fails otherwise.
const ErrUpstreamTimeout errors.Error = "upstream timeout"

// ErrProviderNotExist is returned by Client.ResolveRaw, on each query, when
// the named DoH provider isn't in the registry (including a provider whose
// Init failed in NewClient).  It is not checked when the Client is built.
const ErrProviderNotExist errors.Error = "doh provider does not exist"

// ErrInvalidProvider is raised at configuration time when a DoH provider
// entry is malformed (empty host, bad bootstrap IP, …).
const ErrInvalidProvider errors.Error = "invalid doh provider"
