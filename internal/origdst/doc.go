// Package origdst recovers the destination a client intended to reach before
// the kernel steered its connection to the proxy.
//
// With the nat REDIRECT target the kernel rewrites the destination, and the
// original is read back with the SO_ORIGINAL_DST getsockopt. With the mangle
// TPROXY target the destination is left untouched, so the accepted socket's
// local address already is the original destination.
//
// Only IPv4 is supported.
package origdst
