// Command tproxy is the TPROXY-mode sidecar proxy.
//
// iptables mangle TPROXY rules deliver connections to port 15006 without
// rewriting their destination, so the accepted socket's local address is the
// original destination. Upstream connections are made from the client's own
// IP and carry SO_MARK 0x539, which the policy routing setup uses to return
// reply packets to this process.
//
// Requires CAP_NET_ADMIN.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/die-net/meshredir/internal/config"
	"github.com/die-net/meshredir/internal/dialer"
	"github.com/die-net/meshredir/internal/listener"
	"github.com/die-net/meshredir/internal/logging"
	"github.com/die-net/meshredir/internal/origdst"
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
	cfg, err := config.Parse(config.ModeTProxy, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := listener.Listen(listener.Options{
		Addr:        cfg.Listen,
		Backlog:     cfg.Backlog,
		Transparent: cfg.Mode.Transparent(),
		KeepAlive:   cfg.KeepAlive,
	})
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	log.Infof("Listening on: %s", ln.Addr())

	srv := proxy.NewServer(ctx, proxy.Config{
		Resolver: origdst.Transparent{Listen: cfg.Listen},
		Dialer: dialer.NewTransparentDialer(dialer.Config{
			Mark:      cfg.Mark,
			KeepAlive: cfg.KeepAlive,
			Log:       log,
		}),
		Log: log,
	})

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		log.Info("shutting down")
	}
	return err
}
