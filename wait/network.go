package wait

import (
	"context"
	"net"
	"time"
)

// ForTCP waits until a TCP connection to address can be established.
func ForTCP(ctx context.Context, address string, opts ...*Options) error {
	return Until(ctx, func(ctx context.Context) (bool, error) {
		dialer := net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return false, nil // Ignore error and retry
		}
		conn.Close()
		return true, nil
	}, opts...)
}
