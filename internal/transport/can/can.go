// Package can implements the transport.Transport contract over CAN,
// transparently fragmenting one logical packet across multiple 8-byte
// standard-ID frames and reassembling them on receive.
package can

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/can"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

// Config holds the parameters needed to open a CAN transport.
type Config struct {
	// Driver names the CAN driver family. Only socketcan is supported;
	// an empty string means socketcan.
	Driver string

	// Interface is the socketcan interface to open, e.g. "can0".
	Interface string

	// Bitrate is recorded for diagnostics. A socketcan interface
	// carries its bitrate at link setup (ip link set ... bitrate N);
	// it cannot be changed per-socket.
	Bitrate int

	DeviceID    uint32
	BroadcastID uint32 // 0 disables the broadcast id.

	// WildcardID, when nonzero, disables inbound id filtering: every
	// frame on the bus is treated as addressed to the host.
	WildcardID uint32

	// Echo indicates the driver loops transmitted frames back to the
	// sending socket; each Send then consumes its own echoes so
	// reassembly only ever sees device frames.
	Echo bool
}

// Transport fragments/reassembles logical packets across 8-byte CAN
// frames addressed to Config.DeviceID (or BroadcastID), with no
// process-wide globals: all reassembly state is per-instance, unlike
// the firmware side's static mailbox cursor.
type Transport struct {
	bus      *can.Bus
	cfg      Config
	mu       sync.Mutex
	inbox    [][8]byte
	incoming chan can.Frame
	closed   chan struct{}
}

// Open connects to the named CAN interface and begins listening for
// frames addressed to cfg.DeviceID or cfg.BroadcastID.
func Open(cfg Config) (*Transport, error) {
	if cfg.Driver != "" && cfg.Driver != "socketcan" {
		return nil, &protocol.TransportError{Op: "open can bus", Err: fmt.Errorf("unsupported driver %q (only socketcan)", cfg.Driver)}
	}

	bus, err := can.NewBusForInterfaceWithName(cfg.Interface)
	if err != nil {
		return nil, &protocol.TransportError{Op: "open can bus", Err: err}
	}

	t := &Transport{
		bus:      bus,
		cfg:      cfg,
		incoming: make(chan can.Frame, 256),
		closed:   make(chan struct{}),
	}

	bus.SubscribeFunc(func(frame can.Frame) {
		if !t.accepts(frame.ID) {
			return
		}
		select {
		case t.incoming <- frame:
		default:
		}
	})

	go bus.ConnectAndPublish()

	return t, nil
}

func (t *Transport) accepts(id uint32) bool {
	if t.cfg.WildcardID != 0 {
		return true
	}
	if id == t.cfg.DeviceID {
		return true
	}
	if t.cfg.BroadcastID != 0 && id == t.cfg.BroadcastID {
		return true
	}
	return false
}

// Send splits packet into 8-byte groups (zero-padded in the last
// group), permutes each group, and publishes one standard CAN frame
// per group using the host's device id.
func (t *Transport) Send(ctx context.Context, packet []byte) error {
	for off := 0; off < len(packet); off += 8 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var group [8]byte
		copy(group[:], packet[off:])
		wire := permuteGroup(group)

		frame := can.Frame{
			ID:     t.cfg.DeviceID,
			Length: 8,
			Data:   wire,
		}
		if err := t.bus.Publish(frame); err != nil {
			return &protocol.TransportError{Op: "can send", Err: err}
		}
		if t.cfg.Echo {
			t.discardEcho()
		}
	}
	return nil
}

// discardEcho drops the looped-back copy of a frame this transport
// just published, waiting briefly for the driver to deliver it.
func (t *Transport) discardEcho() {
	select {
	case <-t.incoming:
	case <-time.After(50 * time.Millisecond):
	}
}

// Receive accumulates inbound frames, inverts the permutation on each,
// and returns the first complete logical packet assembled: a buffer
// that begins with SOP, whose declared length field is satisfied, and
// that ends with EOP. The pad bytes trailing the final CAN frame are
// trimmed to the declared length.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		if packet, ok := t.tryAssemble(); ok {
			return packet, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &protocol.TimeoutError{Op: "can receive"}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(remaining):
			return nil, &protocol.TimeoutError{Op: "can receive"}
		case frame := <-t.incoming:
			group := permuteGroup(frame.Data)
			t.mu.Lock()
			t.inbox = append(t.inbox, group)
			t.mu.Unlock()
		}
	}
}

func (t *Transport) tryAssemble() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf []byte
	for _, g := range t.inbox {
		buf = append(buf, g[:]...)
	}
	if len(buf) < 4 || buf[0] != protocol.SOP {
		return nil, false
	}

	length := int(buf[2]) | int(buf[3])<<8
	want := protocol.FrameOverhead + length
	if len(buf) < want {
		return nil, false
	}
	if buf[want-1] != protocol.EOP {
		return nil, false
	}

	packet := append([]byte(nil), buf[:want]...)
	t.inbox = nil
	return packet, true
}

// Close disconnects from the CAN bus.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.bus.Disconnect()
}
