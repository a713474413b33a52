package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"

	"go.uber.org/zap"
)

type Server struct {
	ctx context.Context
	cfg Config
	log *zap.SugaredLogger

	nextID atomic.Uint64
}

func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{ctx: ctx, cfg: cfg, log: log}
}

// Serve accepts connections until ln fails, handling each in its own
// goroutine. It always returns a non-nil error.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		s.log.Infof("accept new connection, peer[%s]->local[%s]", c.RemoteAddr(), c.LocalAddr())

		tc, ok := c.(*net.TCPConn)
		if !ok {
			_ = c.Close()
			s.log.Infof("connection closed with error: unexpected connection type %T", c)
			continue
		}

		conn := &connection{srv: s, id: s.nextID.Add(1), down: tc}
		go func() {
			if err := conn.serve(); err != nil {
				s.log.Infof("connection closed with error: %v", err)
				return
			}
			s.log.Info("connection closed")
		}()
	}
}

// connection is owned by exactly one goroutine for its whole life.
type connection struct {
	srv   *Server
	id    uint64
	state State

	down *net.TCPConn
	up   *net.TCPConn
}

func (c *connection) transition(s State) {
	c.state = s
	c.srv.log.Debugf("connection %d: %s", c.id, s)
}

// fail annotates err with the stage it happened in.
func (c *connection) fail(err error) error {
	return fmt.Errorf("%s: %w", c.state, err)
}

func (c *connection) close() {
	_ = c.down.Close()
	if c.up != nil {
		_ = c.up.Close()
	}
	c.transition(StateClosed)
}

func (c *connection) serve() error {
	defer c.close()

	ctx, cancel := context.WithCancel(c.srv.ctx)
	defer cancel()

	if c.srv.cfg.Hold {
		return c.hold(ctx)
	}

	origin, err := c.srv.cfg.Resolver.OriginalDst(c.down)
	if err != nil {
		return c.fail(err)
	}
	c.transition(StateResolved)
	if c.srv.cfg.LogOrigin {
		c.srv.log.Infof("origin dst addr: %s:%d", origin.Addr(), origin.Port())
	}

	client, err := peerAddrPort(c.down)
	if err != nil {
		return c.fail(err)
	}

	c.transition(StateDialing)
	c.srv.log.Debugf("start connect to upstream: %s, from %s", origin, client)
	c.up, err = c.srv.cfg.Dialer.DialUpstream(ctx, client, origin)
	if err != nil {
		return c.fail(err)
	}
	c.srv.log.Infof("connected to upstream, local[%s]->peer[%s]", c.up.LocalAddr(), c.up.RemoteAddr())

	c.transition(StateSpliced)
	stats, err := Splice(ctx, c.down, c.up)
	c.srv.log.Debugf("connection %d: sent %d bytes, received %d bytes", c.id, stats.Sent, stats.Received)
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// hold reads and discards from the downstream until the client closes it.
func (c *connection) hold(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.down.Close() })
	defer stop()

	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	for {
		_, err := c.down.Read(*buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return c.fail(err)
		}
	}
}

func peerAddrPort(c *net.TCPConn) (netip.AddrPort, error) {
	ra, ok := c.RemoteAddr().(*net.TCPAddr)
	if !ok || ra == nil {
		return netip.AddrPort{}, errors.New("peer address unavailable")
	}
	ap := ra.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
