// Package transport defines the bidirectional, packet-framed channel
// that the bootloader client speaks over, plus the two concrete
// implementations (serial and CAN) that satisfy it.
package transport

import (
	"context"
	"time"
)

// Transport is a bidirectional, packet-framed byte channel with
// timeouts. Send transmits one complete logical
// packet (caller-framed); Receive returns the next complete logical
// packet or fails with a timeout error. A Transport is single-owner:
// no concurrent Send or Receive on one instance is permitted.
type Transport interface {
	Send(ctx context.Context, packet []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
