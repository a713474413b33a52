// Package listener creates the single IPv4 TCP listening socket that
// redirected connections arrive on.
//
// The socket is built by hand rather than through net.ListenConfig so that
// the listen backlog is exactly the configured value and IP_TRANSPARENT is set
// before bind. The finished descriptor is handed to the runtime poller with
// net.FileListener, so accepts remain non-blocking.
package listener
