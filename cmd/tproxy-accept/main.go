// Command tproxy-accept checks a TPROXY setup without proxying anything.
//
// It opens the same IP_TRANSPARENT listener as tproxy, logs every connection
// the mangle rules deliver, and holds it open until the client closes it. No
// upstream connection is made, so it is safe to run before the fwmark routing
// for reply traffic is in place.
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
	"github.com/die-net/meshredir/internal/listener"
	"github.com/die-net/meshredir/internal/logging"
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
	cfg, err := config.Parse(config.ModeTProxyAccept, os.Args[1:], os.Stderr)
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

	srv := proxy.NewServer(ctx, proxy.Config{Log: log, Hold: true})

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		log.Info("shutting down")
	}
	return err
}
