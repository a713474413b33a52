package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Mode selects which redirect mechanism an executable serves.
type Mode int

const (
	// ModeRedirect serves connections steered by the nat REDIRECT target.
	ModeRedirect Mode = iota
	// ModeTProxy serves connections steered by the mangle TPROXY target.
	ModeTProxy
	// ModeTProxyAccept accepts TPROXY connections and holds them open
	// without dialing upstream.
	ModeTProxyAccept
)

func (m Mode) String() string {
	switch m {
	case ModeRedirect:
		return "redir"
	case ModeTProxy:
		return "tproxy"
	case ModeTProxyAccept:
		return "tproxy-accept"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Transparent reports whether the listener needs IP_TRANSPARENT.
func (m Mode) Transparent() bool {
	return m == ModeTProxy || m == ModeTProxyAccept
}

const (
	DefaultListen  = "0.0.0.0:15006"
	DefaultBacklog = 65535
	DefaultUID     = 1337
	DefaultGID     = 1337
	DefaultMark    = 0x539
)

type Config struct {
	Mode Mode

	Listen  netip.AddrPort
	Backlog int

	// UID and GID are the identity REDIRECT mode drops to before binding.
	UID int
	GID int

	// Mark is the SO_MARK applied to TPROXY upstream sockets.
	Mark uint32

	KeepAlive net.KeepAliveConfig

	Verbose bool
}

// Parse parses args (without the program name) for the given mode. Usage and
// errors are written to output.
func Parse(mode Mode, args []string, output io.Writer) (Config, error) {
	fs := pflag.NewFlagSet(mode.String(), pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false

	var (
		listen       = fs.String("listen", DefaultListen, "IPv4 address and port to accept redirected connections on")
		backlog      = fs.Int("backlog", DefaultBacklog, "Listen backlog")
		uid          = fs.Int("uid", DefaultUID, "User id to switch to before binding (redir only)")
		gid          = fs.Int("gid", DefaultGID, "Group id to switch to before binding (redir only)")
		mark         = fs.Uint32("mark", DefaultMark, "SO_MARK applied to upstream sockets (tproxy only)")
		tcpKeepAlive = fs.String("tcp-keepalive", "off", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose      = fs.Bool("verbose", false, "Log per-connection state transitions")
	)

	if mode != ModeRedirect {
		_ = fs.MarkHidden("uid")
		_ = fs.MarkHidden("gid")
	}
	if mode != ModeTProxy {
		_ = fs.MarkHidden("mark")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := Config{
		Mode:    mode,
		Backlog: *backlog,
		UID:     *uid,
		GID:     *gid,
		Mark:    *mark,
		Verbose: *verbose,
	}

	var err error
	cfg.Listen, err = parseListen(*listen)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --listen: %w", err)
	}

	if cfg.Backlog <= 0 {
		return Config{}, errors.New("invalid --backlog: must be > 0")
	}

	if mode == ModeRedirect {
		if cfg.UID < 0 {
			return Config{}, errors.New("invalid --uid: must be >= 0")
		}
		if cfg.GID < 0 {
			return Config{}, errors.New("invalid --gid: must be >= 0")
		}
	}

	cfg.KeepAlive, err = ParseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	return cfg, nil
}

func parseListen(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("%s is not an IPv4 address", ap.Addr())
	}
	if ap.Port() == 0 {
		return netip.AddrPort{}, errors.New("port must be non-zero")
	}
	return netip.AddrPortFrom(addr, ap.Port()), nil
}

// ParseTCPKeepAlive reads the --tcp-keepalive value. "on" uses the net package
// defaults, "off" disables keepalive, and idle:interval:count sets all
// three (idle and interval in whole seconds).
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{}, nil
	}

	idle, interval, count, ok := split3(s, ":")
	if !ok {
		return net.KeepAliveConfig{}, errors.New("want on, off or idle:interval:count")
	}

	ka := net.KeepAliveConfig{Enable: true}
	n, err := positive("idle", idle)
	if err != nil {
		return net.KeepAliveConfig{}, err
	}
	ka.Idle = time.Duration(n) * time.Second
	if n, err = positive("interval", interval); err != nil {
		return net.KeepAliveConfig{}, err
	}
	ka.Interval = time.Duration(n) * time.Second
	if ka.Count, err = positive("count", count); err != nil {
		return net.KeepAliveConfig{}, err
	}
	return ka, nil
}

func split3(s, sep string) (a, b, c string, ok bool) {
	a, rest, ok1 := strings.Cut(s, sep)
	b, c, ok2 := strings.Cut(rest, sep)
	if !ok1 || !ok2 || strings.Contains(c, sep) {
		return "", "", "", false
	}
	return a, b, c, true
}

func positive(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	case n < 1:
		return 0, fmt.Errorf("%s: %d is not positive", field, n)
	}
	return n, nil
}
