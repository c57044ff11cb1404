package tor

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	socksCheckTimeout = 2 * time.Second
	socks5Version     = 0x05
	socks5AuthNone    = 0x00
)

// CheckSOCKS verifies that addr speaks SOCKS5 and accepts unauthenticated
// clients, the way Tor's SOCKS port does.
func CheckSOCKS(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, socksCheckTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial socks %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set socks deadline: %w", err)
	}
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return fmt.Errorf("write socks greeting: %w", err)
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("read socks greeting: %w", err)
	}
	if resp[0] != socks5Version {
		return fmt.Errorf("%s answered with socks version %d", addr, resp[0])
	}
	if resp[1] != socks5AuthNone {
		return fmt.Errorf("%s refused unauthenticated socks (method 0x%02x)", addr, resp[1])
	}
	return nil
}

// CheckSOCKS dials the rotator's SOCKS endpoint.
func (r *Rotator) CheckSOCKS(ctx context.Context) error {
	return CheckSOCKS(ctx, r.cfg.SocksAddr)
}
