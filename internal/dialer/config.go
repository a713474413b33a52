package dialer

import (
	"net"

	"go.uber.org/zap"
)

type Config struct {
	// Mark is the SO_MARK set on transparent upstream sockets.
	Mark uint32

	KeepAlive net.KeepAliveConfig

	Log *zap.SugaredLogger
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Log == nil {
		return zap.NewNop().Sugar()
	}
	return c.Log
}
