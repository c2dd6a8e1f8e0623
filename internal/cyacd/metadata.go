package cyacd

import (
	"encoding/binary"
	"fmt"
)

// metadataLayout is the fixed application metadata layout: the first 32
// bytes of a metadata row or GetMetadata response.
type metadataLayout struct {
	Checksum        uint32
	BootloadableLen uint32
	BootloaderEnd   uint32
	AppVersion      uint16
	AppID           uint16
	CustomID        uint32
}

// decodeMetadataLayout decodes the fixed 32-byte metadata prefix
// present at offset 0 of the block: checksum(4), bootloadable
// length(4), bootloader end(4), app version(2), app id(2), custom
// id(4), 12 bytes reserved.
func decodeMetadataLayout(data []byte) (*metadataLayout, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("metadata block too short: %d bytes, want at least 32", len(data))
	}
	return &metadataLayout{
		Checksum:        binary.LittleEndian.Uint32(data[0:4]),
		BootloadableLen: binary.LittleEndian.Uint32(data[4:8]),
		BootloaderEnd:   binary.LittleEndian.Uint32(data[8:12]),
		AppVersion:      binary.LittleEndian.Uint16(data[12:14]),
		AppID:           binary.LittleEndian.Uint16(data[14:16]),
		CustomID:        binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}
