package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 32 << 10

var copyBuffers = newBufferPool(copyBufferSize)

// Stats counts the bytes moved by Splice in each direction.
type Stats struct {
	// Sent is downstream to upstream.
	Sent int64
	// Received is upstream to downstream.
	Received int64
}

type closeWriter interface {
	CloseWrite() error
}

// Splice copies down to up and up to down concurrently. When a direction
// reaches EOF, the write side of its destination is shut down and the other
// direction keeps running. The first error, or ctx being done, closes both
// connections so the other direction unblocks. Both connections are closed
// when Splice returns.
func Splice(ctx context.Context, down, up net.Conn) (Stats, error) {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = down.Close()
			_ = up.Close()
		})
	}
	defer closeBoth()

	// gctx is done on the first error or when ctx is.
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	var stats Stats

	g.Go(func() error {
		n, err := pipe(up, down)
		stats.Sent = n
		if err != nil {
			return fmt.Errorf("downstream->upstream: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		n, err := pipe(down, up)
		stats.Received = n
		if err != nil {
			return fmt.Errorf("upstream->downstream: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// The copy errors are only the fallout of closing both sockets.
		err = ctx.Err()
	}
	return stats, err
}

// pipe copies src to dst until EOF, then half-closes dst.
func pipe(dst, src net.Conn) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	n, err := io.CopyBuffer(dst, src, *buf)
	if err != nil {
		return n, err
	}

	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
			return n, fmt.Errorf("shutdown: %w", err)
		}
	}
	return n, nil
}
