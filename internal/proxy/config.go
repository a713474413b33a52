package proxy

import (
	"go.uber.org/zap"

	"github.com/die-net/meshredir/internal/dialer"
	"github.com/die-net/meshredir/internal/origdst"
)

type Config struct {
	Resolver origdst.Resolver
	Dialer   dialer.Dialer

	Log *zap.SugaredLogger

	// LogOrigin logs each resolved original destination.
	LogOrigin bool

	// Hold accepts connections and keeps them open, discarding anything the
	// client sends, without resolving or dialing. Resolver and Dialer are
	// unused.
	Hold bool
}
