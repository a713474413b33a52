// Package privdrop switches the process to an unprivileged identity.
//
// REDIRECT-mode iptables rules exempt traffic owned by a fixed uid so the
// proxy's own upstream connections are not redirected back to it. The switch
// must happen before the first socket is bound.
package privdrop
