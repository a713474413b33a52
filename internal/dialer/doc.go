// Package dialer opens the upstream half of a redirected connection.
//
// Socket options and the source-address bind are applied from the dialer's
// control hook, which runs on the fresh, unconnected socket. The runtime then
// connects. This fixes the order the kernel requires: options, bind, connect.
package dialer
