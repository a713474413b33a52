// Command redir is the REDIRECT-mode sidecar proxy.
//
// iptables nat REDIRECT rules steer outbound TCP connections to port 15006.
// For each connection the original destination is read back with
// SO_ORIGINAL_DST and dialed directly. The process switches to uid/gid 1337
// before binding, matching the owner-match exemption in the iptables rules
// so upstream connections are not redirected again.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/die-net/meshredir/internal/config"
	"github.com/die-net/meshredir/internal/dialer"
	"github.com/die-net/meshredir/internal/listener"
	"github.com/die-net/meshredir/internal/logging"
	"github.com/die-net/meshredir/internal/origdst"
	"github.com/die-net/meshredir/internal/privdrop"
	"github.com/die-net/meshredir/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(config.ModeRedirect, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := listenAs(cfg, dropPrivileges, listener.Listen)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	log.Infof("Listening on: %s", ln.Addr())

	srv := proxy.NewServer(ctx, proxy.Config{
		Resolver:  origdst.Redirect{},
		Dialer:    dialer.NewRedirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive, Log: log}),
		Log:       log,
		LogOrigin: true,
	})

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		log.Info("shutting down")
	}
	return err
}

// listenAs switches to cfg.UID/cfg.GID and only then creates the listening
// socket, so no socket is ever bound with the starting identity.
func listenAs(cfg config.Config, drop func(uid, gid int) error, listen func(listener.Options) (net.Listener, error)) (net.Listener, error) {
	if err := drop(cfg.UID, cfg.GID); err != nil {
		return nil, fmt.Errorf("drop privileges: %w", err)
	}

	return listen(listener.Options{
		Addr:        cfg.Listen,
		Backlog:     cfg.Backlog,
		Transparent: cfg.Mode.Transparent(),
		KeepAlive:   cfg.KeepAlive,
	})
}

func dropPrivileges(uid, gid int) error {
	if err := privdrop.Drop(uid, gid); err != nil {
		return err
	}
	return privdrop.Verify(uid, gid)
}
