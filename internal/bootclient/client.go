// Package bootclient issues individual bootloader commands over a
// transport.Transport and decodes their responses. It knows the wire
// protocol (internal/protocol) but nothing about .cyacd images or the
// programming state machine; that lives in internal/session.
package bootclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
	"github.com/bigbag/cyacd-flasher/internal/transport"
)

// DefaultTimeout is used for commands that don't specify their own.
const DefaultTimeout = 5 * time.Second

// Client sends bootloader commands over a transport and decodes their
// responses, translating non-success status codes into errors.
//
// Client is not safe for concurrent use; callers issue one command at
// a time and wait for its response, as the protocol itself does not
// support pipelining.
type Client struct {
	t            transport.Transport
	checksumKind protocol.ChecksumKind
	timeout      time.Duration
}

// New creates a Client over t. checksumKind must match the checksum
// type declared in the .cyacd image's header.
func New(t transport.Transport, checksumKind protocol.ChecksumKind) *Client {
	return &Client{t: t, checksumKind: checksumKind, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-command response timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// EnterBootloader sends the Enter Bootloader command and returns the
// device's reported identity. This method makes exactly one attempt;
// EnterBootloaderRepetitive wraps it with the repetitive-init retry
// behavior (the -r flag).
func (c *Client) EnterBootloader(ctx context.Context) (*protocol.Identity, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdEnterBootloader, nil))
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckStatus("enter bootloader", resp.Status); err != nil {
		return nil, err
	}
	return protocol.DecodeEnterBootloader(resp.Data)
}

// retryInterval is the spacing between repetitive-init attempts. 100ms
// is a target, not a guarantee: actual spacing is bounded below by
// transport send/receive latency.
const retryInterval = 100 * time.Millisecond

// EnterBootloaderRepetitive reissues EnterBootloader on a fixed
// interval until a well-formed response arrives, the context is
// canceled, or retryFor elapses. retryFor == 0 means a single attempt,
// honoring the transport's own timeout; retryFor < 0 means retry
// indefinitely. It is the only bootclient operation with built-in
// retry; every other command fails out to the session on first error.
// Returns the identity, the number of attempts made, and any error
// from the final attempt.
func (c *Client) EnterBootloaderRepetitive(ctx context.Context, retryFor time.Duration) (*protocol.Identity, int, error) {
	if retryFor == 0 {
		id, err := c.EnterBootloader(ctx)
		return id, 1, err
	}

	var deadline time.Time
	indefinite := retryFor < 0
	if !indefinite {
		deadline = time.Now().Add(retryFor)
	}

	attempts := 0
	var lastErr error
	for {
		attempts++
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		id, err := c.EnterBootloader(ctx)
		if err == nil {
			return id, attempts, nil
		}
		lastErr = err

		if !isRetryableEnterError(err) {
			return nil, attempts, err
		}

		if !indefinite && !time.Now().Add(retryInterval).Before(deadline) {
			return nil, attempts, fmt.Errorf("enter bootloader: no response after %d attempts: %w", attempts, lastErr)
		}

		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// isRetryableEnterError reports whether EnterBootloaderRepetitive
// should keep trying after this error: retries cover
// Timeout, FramingError, and ChecksumError, not a BadKey status.
func isRetryableEnterError(err error) bool {
	if protocol.IsTimeout(err) {
		return true
	}
	var framing *protocol.FramingError
	var checksum *protocol.ChecksumError
	if errors.As(err, &framing) || errors.As(err, &checksum) {
		return true
	}
	return false
}

// ExitBootloader sends the Exit Bootloader command. The device may
// reset before sending a response; a timeout here is not necessarily
// an error, and the session layer decides whether to treat it as one.
func (c *Client) ExitBootloader(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdExitBootloader, nil))
	if err != nil {
		return err
	}
	return protocol.CheckStatus("exit bootloader", resp.Status)
}

// EraseRow erases one flash row.
func (c *Client) EraseRow(ctx context.Context, arrayID byte, rowNumber uint16) error {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdEraseRow, protocol.EncodeEraseRow(arrayID, rowNumber)))
	if err != nil {
		return err
	}
	return protocol.CheckStatus("erase row", resp.Status)
}

// ProgramRow programs one flash row's data, which must already be
// sized to fit in a single command (callers split oversized rows into
// SendData chunks followed by a final ProgramRow).
func (c *Client) ProgramRow(ctx context.Context, arrayID byte, rowNumber uint16, data []byte) error {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdProgramRow, protocol.EncodeProgramRow(arrayID, rowNumber, data)))
	if err != nil {
		return err
	}
	return protocol.CheckStatus("program row", resp.Status)
}

// SendData sends a data chunk that a following ProgramRow (or another
// SendData) will reference, for rows too large for a single command.
func (c *Client) SendData(ctx context.Context, data []byte) error {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdSendData, protocol.EncodeSendData(data)))
	if err != nil {
		return err
	}
	return protocol.CheckStatus("send data", resp.Status)
}

// VerifyRow requests the device's checksum for a previously
// programmed row.
func (c *Client) VerifyRow(ctx context.Context, arrayID byte, rowNumber uint16) (byte, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdVerifyRow, protocol.EncodeVerifyRow(arrayID, rowNumber)))
	if err != nil {
		return 0, err
	}
	if err := protocol.CheckStatus("verify row", resp.Status); err != nil {
		return 0, err
	}
	return protocol.DecodeVerifyRow(resp.Data)
}

// VerifyChecksum requests the whole-application checksum verdict.
func (c *Client) VerifyChecksum(ctx context.Context) (bool, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdVerifyChecksum, nil))
	if err != nil {
		return false, err
	}
	if err := protocol.CheckStatus("verify checksum", resp.Status); err != nil {
		return false, err
	}
	return protocol.DecodeVerifyChecksum(resp.Data)
}

// GetFlashSize queries the valid row range for an array.
func (c *Client) GetFlashSize(ctx context.Context, arrayID byte) (*protocol.FlashArrayInfo, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdGetFlashSize, protocol.EncodeGetFlashSize(arrayID)))
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckStatus("get flash size", resp.Status); err != nil {
		return nil, err
	}
	return protocol.DecodeGetFlashSize(arrayID, resp.Data)
}

// GetMetadata queries application metadata at the given app index.
func (c *Client) GetMetadata(ctx context.Context, appIndex byte) (*protocol.MetadataBlock, error) {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdGetMetadata, protocol.EncodeGetMetadata(appIndex)))
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckStatus("get metadata", resp.Status); err != nil {
		return nil, err
	}
	return protocol.DecodeGetMetadata(resp.Data)
}

// SyncBootloader sends the resync command, used to recover framing
// after a corrupted exchange without reopening the transport.
func (c *Client) SyncBootloader(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, protocol.NewRequest(protocol.CmdSyncBootloader, nil))
	if err != nil {
		return err
	}
	return protocol.CheckStatus("sync bootloader", resp.Status)
}

// roundTrip writes req and decodes the single response frame that
// follows, applying the client's configured timeout.
func (c *Client) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	frame := req.Encode(c.checksumKind)
	if err := c.t.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("send command 0x%02X: %w", req.Command, err)
	}

	raw, err := c.t.Receive(ctx, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("receive response to command 0x%02X: %w", req.Command, err)
	}

	resp, err := protocol.DecodeResponse(c.checksumKind, raw)
	if err != nil {
		return nil, fmt.Errorf("decode response to command 0x%02X: %w", req.Command, err)
	}
	return resp, nil
}
