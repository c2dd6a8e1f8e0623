// Package serial implements the transport.Transport contract over a
// byte-stream serial port, framing packets by the bootloader
// protocol's own SOP/EOP bytes and length field.
package serial

import (
	"context"
	"fmt"
	"time"

	goserial "go.bug.st/serial"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

// Parity mirrors the CLI's --parity flag.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// StopBits mirrors the CLI's --stopbits flag.
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsTwo
)

// Config holds the port parameters needed to open a serial transport.
type Config struct {
	Port     string
	BaudRate int
	Parity   Parity
	StopBits StopBits
}

// Transport wraps a go.bug.st/serial port with bootloader frame
// scanning on read.
type Transport struct {
	port     goserial.Port
	portName string
	buf      []byte
}

// Open opens the named serial port with the given configuration.
func Open(cfg Config) (*Transport, error) {
	mode := &goserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   toLibParity(cfg.Parity),
		StopBits: toLibStopBits(cfg.StopBits),
	}

	port, err := goserial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return &Transport{port: port, portName: cfg.Port}, nil
}

func toLibParity(p Parity) goserial.Parity {
	switch p {
	case ParityEven:
		return goserial.EvenParity
	case ParityOdd:
		return goserial.OddParity
	default:
		return goserial.NoParity
	}
}

func toLibStopBits(s StopBits) goserial.StopBits {
	if s == StopBitsTwo {
		return goserial.TwoStopBits
	}
	return goserial.OneStopBit
}

// Send transmits one complete logical packet. The caller is
// responsible for framing (protocol.Request.Encode).
func (t *Transport) Send(ctx context.Context, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.port.Write(packet); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Receive reads the next complete logical packet, accumulating bytes
// and scanning them with ScanFrame. A lone SOP seen during scanning
// discards buffered junk before it.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		if frame, remaining, ok := ScanFrame(t.buf); ok {
			t.buf = remaining
			return frame, nil
		} else {
			t.buf = remaining
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, &protocol.TimeoutError{Op: "receive"}
		}

		n, err := t.readWithTimeout(chunk, 50*time.Millisecond)
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil && n == 0 {
			continue
		}
	}
}

func (t *Transport) readWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return t.port.Read(buf)
}

// Close closes the underlying serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}

// Flush discards any buffered input.
func (t *Transport) Flush() error {
	return t.port.ResetInputBuffer()
}

// PortName returns the configured port name.
func (t *Transport) PortName() string { return t.portName }

// ListPorts returns the names of available serial ports.
func ListPorts() ([]string, error) {
	return goserial.GetPortsList()
}
