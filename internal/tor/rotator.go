// Package tor rotates the crawler's egress identity through a local Tor daemon.
package tor

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cretz/bine/control"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

const (
	// DefaultSocksAddr is Tor's default SOCKS listener.
	DefaultSocksAddr = "127.0.0.1:9050"
	// DefaultControlAddr is Tor's default control port.
	DefaultControlAddr = "127.0.0.1:9051"
	// DefaultSettleDelay bounds how long Rotate waits for a fresh circuit.
	DefaultSettleDelay = 10 * time.Second

	bootstrapPollInterval = 250 * time.Millisecond
	controlDialTimeout    = 5 * time.Second
)

// rotateMu serializes NEWNYM across every Rotator in the process.
var rotateMu sync.Mutex

var _ crawler.IdentityRotator = (*Rotator)(nil)

// Config locates the Tor daemon.
type Config struct {
	SocksAddr   string
	ControlAddr string
	Password    string
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SocksAddr == "" {
		c.SocksAddr = DefaultSocksAddr
	}
	if c.ControlAddr == "" {
		c.ControlAddr = DefaultControlAddr
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	return c
}

// controller is the subset of the bine control connection the rotator uses.
type controller interface {
	Authenticate(password string) error
	Signal(signal string) error
	GetInfo(keys ...string) ([]*control.KeyVal, error)
	Close() error
}

type dialFunc func(ctx context.Context, addr string) (controller, error)

// Rotator implements crawler.IdentityRotator over the Tor control port.
type Rotator struct {
	cfg    Config
	socks  crawler.ProxyConfig
	dial   dialFunc
	logger *zap.Logger
	now    func() time.Time
}

// NewRotator validates the endpoints. It does not contact Tor.
func NewRotator(cfg Config, logger *zap.Logger) (*Rotator, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	host, portStr, err := net.SplitHostPort(cfg.SocksAddr)
	if err != nil {
		return nil, fmt.Errorf("tor socks address %q: %w", cfg.SocksAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("tor socks port %q is invalid", portStr)
	}
	if _, _, err := net.SplitHostPort(cfg.ControlAddr); err != nil {
		return nil, fmt.Errorf("tor control address %q: %w", cfg.ControlAddr, err)
	}
	return &Rotator{
		cfg:    cfg,
		socks:  crawler.ProxyConfig{Protocol: "socks5h", Host: host, Port: port},
		dial:   dialControl,
		logger: logger.Named("tor"),
		now:    time.Now,
	}, nil
}

func dialControl(ctx context.Context, addr string) (controller, error) {
	d := net.Dialer{Timeout: controlDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return control.NewConn(textproto.NewConn(conn)), nil
}

// open dials and authenticates a control connection.
func (r *Rotator) open(ctx context.Context) (controller, error) {
	conn, err := r.dial(ctx, r.cfg.ControlAddr)
	if err != nil {
		return nil, eris.Wrapf(crawler.ErrProxyUnavailable, "dial tor control %s: %v", r.cfg.ControlAddr, err)
	}
	if err := conn.Authenticate(r.cfg.Password); err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(crawler.ErrProxyAuth, "authenticate tor control: %v", err)
	}
	return conn, nil
}

// Rotate requests a new circuit and blocks until Tor reports a finished
// bootstrap or the settle delay elapses.
func (r *Rotator) Rotate(ctx context.Context) error {
	rotateMu.Lock()
	defer rotateMu.Unlock()

	conn, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Signal("NEWNYM"); err != nil {
		return eris.Wrapf(crawler.ErrProxyUnavailable, "signal NEWNYM: %v", err)
	}
	r.logger.Info("requested new tor identity")

	deadline := r.now().Add(r.cfg.SettleDelay)
	ticker := time.NewTicker(bootstrapPollInterval)
	defer ticker.Stop()
	for {
		if bootstrapped(conn) {
			return nil
		}
		if !r.now().Before(deadline) {
			r.logger.Debug("settle delay elapsed before bootstrap reported done")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProxyConfig returns the SOCKS egress, or nil when the control channel
// cannot be reached or refuses our credentials.
func (r *Rotator) ProxyConfig(ctx context.Context) *crawler.ProxyConfig {
	conn, err := r.open(ctx)
	if err != nil {
		r.logger.Warn("tor control channel unavailable", zap.Error(err))
		return nil
	}
	_ = conn.Close()
	px := r.socks
	return &px
}

func bootstrapped(conn controller) bool {
	vals, err := conn.GetInfo("status/bootstrap-phase")
	if err != nil {
		return false
	}
	for _, kv := range vals {
		if kv == nil || kv.Key != "status/bootstrap-phase" {
			continue
		}
		if strings.Contains(kv.Val, `SUMMARY="Done"`) || strings.Contains(kv.Val, "PROGRESS=100") {
			return true
		}
	}
	return false
}
