// Package proxy serves redirected TCP connections.
//
// Server runs the accept loop and gives each accepted connection its own
// goroutine, which resolves the original destination, dials it, and splices
// the two sockets until both directions are finished. Errors on one
// connection are logged and never affect the listener or other connections.
package proxy
