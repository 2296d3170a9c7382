package docmux

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds the TCP connect in Dial.
const DialTimeout = 10 * time.Second

// Dial connects to a document server at addr ("host:port") and returns a
// DocMux over the connection.
func Dial(ctx context.Context, name, addr string) (*DocMux[net.Conn], error) {
	d := net.Dialer{Timeout: DialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logf("%s: connected to %s", name, conn.RemoteAddr())
	return New[net.Conn](name, conn), nil
}
