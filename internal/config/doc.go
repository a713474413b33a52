// Package config parses the command line of the redirector executables.
//
// Every flag defaults to the value the surrounding iptables and policy
// routing configuration expects, so running an executable without arguments
// listens on 0.0.0.0:15006 with a backlog of 65535, drops to uid/gid 1337 in
// REDIRECT mode, and marks upstream sockets with 0x539 in TPROXY mode.
package config
