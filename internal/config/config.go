// Package config holds the validated run parameters shared between the
// CLI front end and the flashing session, and maps them onto transport
// and session option structs.
package config

import (
	"fmt"
	"time"

	"github.com/bigbag/cyacd-flasher/internal/session"
	"github.com/bigbag/cyacd-flasher/internal/transport/can"
	"github.com/bigbag/cyacd-flasher/internal/transport/serial"
)

// Defaults for flags the user leaves unset.
const (
	DefaultSerialBaudrate = 115200
	DefaultTimeoutSecs    = 5.0
	DefaultChunkSize      = 32
	DefaultRepetitiveSecs = 2.0
	DefaultCANBitrate     = 125000
	DefaultCANID          = 0x100
)

// Config carries the full CLI flag surface. Zero values mean "flag not
// given"; Validate fills nothing in, it only rejects inconsistent
// combinations.
type Config struct {
	ImagePath string

	// Transport selection: exactly one of SerialPort / CANDriver.
	SerialPort     string
	SerialBaudrate int
	Parity         string // "N", "E" or "O"
	StopBits       int    // 1 or 2

	CANDriver      string // e.g. "socketcan"
	CANChannel     string // e.g. "can0"
	CANBitrate     int
	CANID          uint32
	CANBroadcastID uint32
	CANWildcardID  uint32
	CANEcho        bool

	TimeoutSecs float64

	Erase       bool
	Downgrade   bool
	NoDowngrade bool
	NewApp      bool
	NoNewApp    bool

	ChunkSize      int
	RepetitiveSecs float64

	Resync  bool
	DryRun  bool
	Verbose bool
}

// UsageError marks a flag combination the CLI should report as a usage
// error (exit code 2) rather than a runtime failure.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usagef(format string, args ...interface{}) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// Validate rejects inconsistent or out-of-range flag combinations.
func (c *Config) Validate() error {
	haveSerial := c.SerialPort != ""
	haveCAN := c.CANDriver != ""
	if haveSerial == haveCAN {
		return usagef("exactly one of --serial or --canbus is required")
	}
	if haveCAN && c.CANChannel == "" {
		return usagef("--canbus requires --canbus_channel")
	}

	switch c.Parity {
	case "", "N", "E", "O":
	default:
		return usagef("--parity must be one of N, E, O, got %q", c.Parity)
	}
	switch c.StopBits {
	case 0, 1, 2:
	default:
		return usagef("--stopbits must be 1 or 2, got %d", c.StopBits)
	}

	switch c.ChunkSize {
	case 0, 16, 32, 64, 128:
	default:
		return usagef("-c must be one of 16, 32, 64, 128, got %d", c.ChunkSize)
	}

	if c.Downgrade && c.NoDowngrade {
		return usagef("--downgrade and --nodowngrade are mutually exclusive")
	}
	if c.NewApp && c.NoNewApp {
		return usagef("--newapp and --nonewapp are mutually exclusive")
	}

	if c.TimeoutSecs < 0 {
		return usagef("--timeout must be non-negative, got %g", c.TimeoutSecs)
	}
	return nil
}

// Timeout returns the per-command response timeout.
func (c *Config) Timeout() time.Duration {
	secs := c.TimeoutSecs
	if secs == 0 {
		secs = DefaultTimeoutSecs
	}
	return time.Duration(secs * float64(time.Second))
}

// RepetitiveInit returns the repetitive-init duration for
// EnterBootloader: 0 means a single attempt, negative means retry
// indefinitely.
func (c *Config) RepetitiveInit() time.Duration {
	if c.RepetitiveSecs < 0 {
		return -time.Second
	}
	return time.Duration(c.RepetitiveSecs * float64(time.Second))
}

// SerialConfig maps the serial flags onto a serial transport config.
func (c *Config) SerialConfig() serial.Config {
	baud := c.SerialBaudrate
	if baud == 0 {
		baud = DefaultSerialBaudrate
	}
	return serial.Config{
		Port:     c.SerialPort,
		BaudRate: baud,
		Parity:   parityFromFlag(c.Parity),
		StopBits: stopBitsFromFlag(c.StopBits),
	}
}

func parityFromFlag(p string) serial.Parity {
	switch p {
	case "E":
		return serial.ParityEven
	case "O":
		return serial.ParityOdd
	default:
		return serial.ParityNone
	}
}

func stopBitsFromFlag(s int) serial.StopBits {
	if s == 2 {
		return serial.StopBitsTwo
	}
	return serial.StopBitsOne
}

// CANConfig maps the CAN flags onto a CAN transport config.
func (c *Config) CANConfig() can.Config {
	bitrate := c.CANBitrate
	if bitrate == 0 {
		bitrate = DefaultCANBitrate
	}
	id := c.CANID
	if id == 0 {
		id = DefaultCANID
	}
	return can.Config{
		Driver:      c.CANDriver,
		Interface:   c.CANChannel,
		Bitrate:     bitrate,
		DeviceID:    id,
		BroadcastID: c.CANBroadcastID,
		WildcardID:  c.CANWildcardID,
		Echo:        c.CANEcho,
	}
}

// SessionOptions maps the programming flags onto session options.
// Confirmer, OnEvent and Logger are supplied by the caller since they
// bind to the CLI's terminal.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Erase:             c.Erase,
		AllowDowngrade:    c.Downgrade,
		DenyDowngrade:     c.NoDowngrade,
		AllowDifferentApp: c.NewApp,
		DenyDifferentApp:  c.NoNewApp,
		ChunkSize:         c.ChunkSize,
		RepetitiveInit:    c.RepetitiveInit(),
		Resync:            c.Resync,
		DryRun:            c.DryRun,
	}
}
