// Package session implements the top-level flashing state machine:
// ENTER -> VERIFY_SILICON -> CHECK_METADATA? -> VERIFY_ROWS -> ERASE?
// -> PROGRAM -> VERIFY_CHECKSUM -> EXIT, with per-row retry and
// structured progress events.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/cyacd-flasher/internal/bootclient"
	"github.com/bigbag/cyacd-flasher/internal/cyacd"
	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

// Options configures a session run. Zero-value Options is usable but
// conservative: 32-byte chunks, single-try enter, no
// erase, all metadata conflicts declined.
type Options struct {
	// Erase, if set, erases every image row before programming.
	Erase bool

	// AllowDowngrade, if true, programs even when the device reports a
	// newer app version than the image. If false, MetadataConflict is
	// consulted via Confirmer.
	AllowDowngrade bool

	// AllowDifferentApp is the same policy for a differing app id.
	AllowDifferentApp bool

	// DenyDowngrade declines a downgrade outright, without consulting
	// Confirmer. Takes effect only when AllowDowngrade is unset.
	DenyDowngrade bool

	// DenyDifferentApp is the same pre-emptive decline for a differing
	// app id.
	DenyDifferentApp bool

	// DryRun stops the session after VERIFY_ROWS: the image is parsed
	// and validated against the device, but nothing is erased or
	// programmed. The device is still rebooted out of the bootloader.
	DryRun bool

	// ChunkSize bounds how many bytes go in each SendData call before
	// the trailing ProgramRow. One of 16/32/64/128.
	ChunkSize int

	// RepetitiveInit is the duration EnterBootloader is retried for;
	// 0 means a single attempt, negative means retry indefinitely.
	RepetitiveInit time.Duration

	// AppIndex selects which application's metadata GetMetadata reports.
	AppIndex byte

	// RowRetryLimit bounds per-row retries on packet/checksum errors
	// before the session gives up on that row.
	RowRetryLimit int

	// Resync, if set, sends SyncBootloader before ENTER to recover
	// framing left dirty by a prior aborted session.
	Resync bool

	// Confirmer decides metadata-conflict prompts. Defaults to
	// NeverConfirm (safest) if nil.
	Confirmer Confirmer

	// OnEvent receives progress events as the session advances.
	OnEvent EventFunc

	// Logger receives full diagnostic detail; defaults to
	// logrus.StandardLogger() if nil.
	Logger *logrus.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ChunkSize <= 0 {
		out.ChunkSize = 32
	}
	if out.RowRetryLimit <= 0 {
		out.RowRetryLimit = 3
	}
	if out.Confirmer == nil {
		out.Confirmer = NeverConfirm
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Result summarizes a completed run.
type Result struct {
	Identity       *protocol.Identity
	EnterAttempts  int
	PacketErrors   int
	RowsProgrammed int
}

// Run drives a full flashing session against client using img,
// returning once the device has been verified and rebooted, or a
// typed error on failure. Run owns client for its duration.
func Run(ctx context.Context, client *bootclient.Client, img *cyacd.Image, opts Options) (*Result, error) {
	o := opts.withDefaults()
	log := o.Logger.WithField("component", "session")

	if o.Resync {
		if err := client.SyncBootloader(ctx); err != nil {
			log.WithError(err).Debug("sync bootloader failed, continuing to enter")
		}
	}

	result := &Result{}

	// ENTER
	identity, attempts, err := client.EnterBootloaderRepetitive(ctx, o.RepetitiveInit)
	if err != nil {
		if ctx.Err() != nil {
			return result, &Canceled{Step: "enter"}
		}
		if be, ok := protocol.IsBootloaderError(err); ok && be.Status == protocol.StatusBadKey {
			return result, fmt.Errorf("bootloader not responding or key mismatch: %w", err)
		}
		return result, fmt.Errorf("enter bootloader: %w", err)
	}
	result.Identity = identity
	result.EnterAttempts = attempts
	log.WithFields(logrus.Fields{
		"silicon_id":  fmt.Sprintf("0x%08X", identity.SiliconID),
		"silicon_rev": identity.SiliconRev,
		"attempts":    attempts,
	}).Info("entered bootloader")
	o.OnEvent.emit(EnteredBootloader{Identity: identity, Attempts: attempts})

	// VERIFY_SILICON
	if identity.SiliconID != img.SiliconID || identity.SiliconRev != img.SiliconRev {
		return result, &InvalidSilicon{
			ExpectedID:  img.SiliconID,
			ExpectedRev: img.SiliconRev,
			ActualID:    identity.SiliconID,
			ActualRev:   identity.SiliconRev,
		}
	}

	// CHECK_METADATA
	if err := checkMetadata(ctx, client, img, o, log); err != nil {
		return result, err
	}

	// VERIFY_ROWS
	arrays := img.Arrays()
	for _, arrayID := range arrays {
		info, err := client.GetFlashSize(ctx, arrayID)
		if err != nil {
			return result, fmt.Errorf("get flash size for array %d: %w", arrayID, err)
		}
		log.WithFields(logrus.Fields{"array": arrayID, "first_row": info.FirstRow, "last_row": info.LastRow}).Debug("array range")
		o.OnEvent.emit(ArrayRange{Array: arrayID, First: info.FirstRow, Last: info.LastRow})

		for _, row := range img.RowsForArray(arrayID) {
			if row.RowNumber < info.FirstRow || row.RowNumber > info.LastRow {
				return result, &RowRangeError{Array: arrayID, Row: row.RowNumber, FirstRow: info.FirstRow, LastRow: info.LastRow}
			}
		}
	}

	// DRY_RUN stops here: the device checks out, nothing is written.
	if o.DryRun {
		o.OnEvent.emit(Rebooting{})
		if err := client.ExitBootloader(ctx); err != nil {
			log.WithError(err).Debug("exit bootloader: no/invalid response (device likely rebooting)")
		}
		return result, nil
	}

	// ERASE
	if o.Erase {
		total := len(img.Rows)
		for _, row := range img.Rows {
			if err := ctx.Err(); err != nil {
				return result, &Canceled{Step: "erase"}
			}
			if err := retryRow(row.ArrayID, row.RowNumber, o.RowRetryLimit, &result.PacketErrors, func() error {
				return client.EraseRow(ctx, row.ArrayID, row.RowNumber)
			}); err != nil {
				return result, fmt.Errorf("erase row %d (array %d): %w", row.RowNumber, row.ArrayID, err)
			}
			o.OnEvent.emit(Erasing{Row: row.RowNumber, Total: total, Errors: result.PacketErrors})
		}
	}

	// PROGRAM
	total := len(img.Rows)
	for _, row := range img.Rows {
		if err := ctx.Err(); err != nil {
			return result, &Canceled{Step: "program"}
		}
		if err := retryRow(row.ArrayID, row.RowNumber, o.RowRetryLimit, &result.PacketErrors, func() error {
			return programAndVerifyRow(ctx, client, row, o.ChunkSize)
		}); err != nil {
			return result, fmt.Errorf("program row %d (array %d): %w", row.RowNumber, row.ArrayID, err)
		}
		result.RowsProgrammed++
		o.OnEvent.emit(Programming{Row: row.RowNumber, Total: total, Errors: result.PacketErrors})
	}

	// VERIFY_CHECKSUM
	ok, err := client.VerifyChecksum(ctx)
	if err != nil {
		return result, fmt.Errorf("verify checksum: %w", err)
	}
	o.OnEvent.emit(Verified{OK: ok})
	if !ok {
		return result, &ChecksumError{}
	}

	// EXIT
	o.OnEvent.emit(Rebooting{})
	if err := client.ExitBootloader(ctx); err != nil {
		log.WithError(err).Debug("exit bootloader: no/invalid response (device likely rebooting)")
	}

	return result, nil
}

// checkMetadata implements the CHECK_METADATA? step: compare device-
// reported metadata against the image's own, consulting Confirmer on
// a downgrade or app-id conflict. A BAD_COMMAND response means the
// bootloader doesn't support GetMetadata; that is not a failure.
func checkMetadata(ctx context.Context, client *bootclient.Client, img *cyacd.Image, o Options, log *logrus.Entry) error {
	row := metadataRow(img)
	if row == nil {
		log.Debug("no metadata row found in image, skipping metadata check")
		return nil
	}
	localMeta, err := cyacd.MetadataFromRow(row.Data)
	if err != nil {
		log.WithError(err).Debug("image metadata row could not be decoded, skipping metadata check")
		return nil
	}

	deviceBlock, err := client.GetMetadata(ctx, o.AppIndex)
	if err != nil {
		if be, ok := protocol.IsBootloaderError(err); ok && be.Status == protocol.StatusBadCommand {
			log.Debug("metadata not supported")
			return nil
		}
		return fmt.Errorf("get metadata: %w", err)
	}
	deviceMeta := cyacd.MetadataFromGetMetadataResponse(deviceBlock.AppID, deviceBlock.AppVersion, deviceBlock.CustomID)

	if deviceMeta.AppVersion > localMeta.AppVersion && !o.AllowDowngrade {
		if o.DenyDowngrade {
			return &MetadataConflict{Reason: "downgrade declined"}
		}
		dmaj, dmin := cyacd.AppVersionMajorMinor(deviceMeta.AppVersion)
		imaj, imin := cyacd.AppVersionMajorMinor(localMeta.AppVersion)
		prompt := fmt.Sprintf("device has newer app version %d.%d than image %d.%d; downgrade?", dmaj, dmin, imaj, imin)
		if !o.Confirmer.Confirm(prompt) {
			return &MetadataConflict{Reason: "downgrade declined"}
		}
	}

	if deviceMeta.AppID != localMeta.AppID && !o.AllowDifferentApp {
		if o.DenyDifferentApp {
			return &MetadataConflict{Reason: "different app declined"}
		}
		prompt := fmt.Sprintf("device app id %d differs from image app id %d; proceed?", deviceMeta.AppID, localMeta.AppID)
		if !o.Confirmer.Confirm(prompt) {
			return &MetadataConflict{Reason: "different app declined"}
		}
	}

	return nil
}

// metadataRow picks the highest-numbered row of the image's first
// array as the carrier of AppMetadata. When an image spans several
// arrays, the first holds the application region.
func metadataRow(img *cyacd.Image) *cyacd.Row {
	arrays := img.Arrays()
	if len(arrays) == 0 {
		return nil
	}
	rows := img.RowsForArray(arrays[0])
	if len(rows) == 0 {
		return nil
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.RowNumber > best.RowNumber {
			best = r
		}
	}
	return &best
}

// programAndVerifyRow streams a row's data via SendData chunks
// followed by a ProgramRow carrying the remainder, then verifies the
// device's checksum against the local one.
func programAndVerifyRow(ctx context.Context, client *bootclient.Client, row cyacd.Row, chunkSize int) error {
	data := row.Data
	for len(data) > chunkSize {
		chunk := data[:chunkSize]
		if err := client.SendData(ctx, chunk); err != nil {
			return fmt.Errorf("send data: %w", err)
		}
		data = data[chunkSize:]
	}

	if err := client.ProgramRow(ctx, row.ArrayID, row.RowNumber, data); err != nil {
		return fmt.Errorf("program row: %w", err)
	}

	deviceChecksum, err := client.VerifyRow(ctx, row.ArrayID, row.RowNumber)
	if err != nil {
		return fmt.Errorf("verify row: %w", err)
	}

	want := protocol.RowChecksum(row.ArrayID, row.RowNumber, row.Data)
	if deviceChecksum != want {
		return &RowChecksumError{Array: row.ArrayID, Row: row.RowNumber, Expected: want, Actual: deviceChecksum}
	}
	return nil
}

// retryRow runs op up to limit times, incrementing *packetErrors for
// every failed attempt, and returns PacketErrorLimitExceeded wrapping
// the last error if every attempt fails.
func retryRow(arrayID byte, rowNumber uint16, limit int, packetErrors *int, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < limit; attempt++ {
		if err := op(); err != nil {
			lastErr = err
			*packetErrors++
			continue
		}
		return nil
	}
	return &PacketErrorLimitExceeded{Array: arrayID, Row: rowNumber, Tries: limit, cause: lastErr}
}
