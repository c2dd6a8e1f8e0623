// Package cyacd parses Cypress .cyacd firmware image files into an
// Image of ordered Rows.
package cyacd

import "github.com/bigbag/cyacd-flasher/internal/protocol"

// Image is a parsed .cyacd file: a header plus an ordered sequence of
// rows. Rows are ordered by (ArrayID, RowNumber) as they appear in the
// file; every Row.Data for a given array has equal length.
type Image struct {
	ChecksumKind protocol.ChecksumKind
	SiliconID    uint32
	SiliconRev   byte
	Rows         []Row
}

// Row is one flash row to be programmed.
type Row struct {
	ArrayID   byte
	RowNumber uint16
	Data      []byte
}

// AppMetadata identifies an application's version and id, decoded
// either from a Row's data (the highest-numbered row in the app's
// flash region) or from a GetMetadata response. Both
// decode paths must produce equal values for the same application.
type AppMetadata struct {
	AppID      uint16
	AppVersion uint16
	CustomID   uint32
}

// AppVersionMajorMinor splits the packed app version into its major
// (high byte) and minor (low byte) components.
func AppVersionMajorMinor(v uint16) (major, minor byte) {
	return byte(v >> 8), byte(v)
}

// Arrays returns the distinct array ids referenced by the image, in
// first-seen order.
func (img *Image) Arrays() []byte {
	seen := make(map[byte]bool)
	var ids []byte
	for _, r := range img.Rows {
		if !seen[r.ArrayID] {
			seen[r.ArrayID] = true
			ids = append(ids, r.ArrayID)
		}
	}
	return ids
}

// RowsForArray returns the rows belonging to the given array, in file order.
func (img *Image) RowsForArray(arrayID byte) []Row {
	var rows []Row
	for _, r := range img.Rows {
		if r.ArrayID == arrayID {
			rows = append(rows, r)
		}
	}
	return rows
}

// MetadataFromRow decodes AppMetadata from the trailing metadata row's
// data slice (offsets relative to the start of the row's data).
func MetadataFromRow(data []byte) (*AppMetadata, error) {
	m, err := decodeMetadataLayout(data)
	if err != nil {
		return nil, err
	}
	return &AppMetadata{
		AppID:      m.AppID,
		AppVersion: m.AppVersion,
		CustomID:   m.CustomID,
	}, nil
}

// MetadataFromGetMetadataResponse builds AppMetadata from the fields of
// an already decoded bootclient GetMetadata response block. Kept as a distinct entry point (rather
// than sharing protocol.MetadataBlock directly) so callers comparing
// row-derived and device-reported metadata always go through the same
// AppMetadata shape.
func MetadataFromGetMetadataResponse(appID, appVersion uint16, customID uint32) *AppMetadata {
	return &AppMetadata{AppID: appID, AppVersion: appVersion, CustomID: customID}
}
