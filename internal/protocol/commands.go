package protocol

import (
	"encoding/binary"
	"fmt"
)

// Identity is the decoded EnterBootloader response.
type Identity struct {
	SiliconID         uint32
	SiliconRev        byte
	BootloaderVersion [3]byte // major, minor, patch
}

// FlashArrayInfo is the decoded GetFlashSize response.
type FlashArrayInfo struct {
	ArrayID  byte
	FirstRow uint16
	LastRow  uint16
}

// MetadataBlock is the decoded first 32 bytes of a GetMetadata response
// or equivalent metadata row slice.
type MetadataBlock struct {
	Checksum         uint32
	BootloadableLen  uint32
	BootloaderEnd    uint32
	AppVersion       uint16
	AppID            uint16
	CustomID         uint32
}

// EncodeEnterBootloader builds the (empty) EnterBootloader request payload.
func EncodeEnterBootloader() []byte { return nil }

// DecodeEnterBootloader parses the EnterBootloader response payload
// (4B silicon id, 1B rev, 3B bootloader version).
func DecodeEnterBootloader(data []byte) (*Identity, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("enter bootloader: want 8 response bytes, got %d", len(data))
	}
	return &Identity{
		SiliconID:         binary.LittleEndian.Uint32(data[0:4]),
		SiliconRev:        data[4],
		BootloaderVersion: [3]byte{data[5], data[6], data[7]},
	}, nil
}

// EncodeExitBootloader builds the (empty) ExitBootloader request payload.
func EncodeExitBootloader() []byte { return nil }

// EncodeProgramRow builds the ProgramRow request payload: 1B array,
// 2B row (little-endian), N bytes of data.
func EncodeProgramRow(arrayID byte, row uint16, data []byte) []byte {
	payload := make([]byte, 3+len(data))
	payload[0] = arrayID
	binary.LittleEndian.PutUint16(payload[1:3], row)
	copy(payload[3:], data)
	return payload
}

// EncodeEraseRow builds the EraseRow request payload: 1B array, 2B row.
func EncodeEraseRow(arrayID byte, row uint16) []byte {
	payload := make([]byte, 3)
	payload[0] = arrayID
	binary.LittleEndian.PutUint16(payload[1:3], row)
	return payload
}

// EncodeVerifyRow builds the VerifyRow request payload: 1B array, 2B row.
func EncodeVerifyRow(arrayID byte, row uint16) []byte {
	return EncodeEraseRow(arrayID, row)
}

// DecodeVerifyRow parses the VerifyRow response payload: 1B row checksum.
func DecodeVerifyRow(data []byte) (byte, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("verify row: want 1 response byte, got %d", len(data))
	}
	return data[0], nil
}

// EncodeVerifyChecksum builds the (empty) VerifyChecksum request payload.
func EncodeVerifyChecksum() []byte { return nil }

// DecodeVerifyChecksum parses the VerifyChecksum response payload: 1B,
// nonzero means ok.
func DecodeVerifyChecksum(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, fmt.Errorf("verify checksum: want 1 response byte, got %d", len(data))
	}
	return data[0] != 0, nil
}

// EncodeGetFlashSize builds the GetFlashSize request payload: 1B array.
func EncodeGetFlashSize(arrayID byte) []byte {
	return []byte{arrayID}
}

// DecodeGetFlashSize parses the GetFlashSize response payload: 2B first
// row, 2B last row.
func DecodeGetFlashSize(arrayID byte, data []byte) (*FlashArrayInfo, error) {
	if len(data) != 4 {
		return nil, fmt.Errorf("get flash size: want 4 response bytes, got %d", len(data))
	}
	return &FlashArrayInfo{
		ArrayID:  arrayID,
		FirstRow: binary.LittleEndian.Uint16(data[0:2]),
		LastRow:  binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// EncodeGetMetadata builds the GetMetadata request payload: 1B app index.
func EncodeGetMetadata(appIndex byte) []byte {
	return []byte{appIndex}
}

// DecodeGetMetadata parses the first 32 bytes of a GetMetadata response
// per the application metadata layout. Only the response's own prefix is
// consulted; trailing reserved bytes are ignored.
func DecodeGetMetadata(data []byte) (*MetadataBlock, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("get metadata: want at least 32 response bytes, got %d", len(data))
	}
	return &MetadataBlock{
		Checksum:        binary.LittleEndian.Uint32(data[0:4]),
		BootloadableLen: binary.LittleEndian.Uint32(data[4:8]),
		BootloaderEnd:   binary.LittleEndian.Uint32(data[8:12]),
		AppVersion:      binary.LittleEndian.Uint16(data[12:14]),
		AppID:           binary.LittleEndian.Uint16(data[14:16]),
		CustomID:        binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// EncodeSendData builds the SendData request payload: up to chunkSize
// bytes of data, buffered device-side for a following ProgramRow.
func EncodeSendData(data []byte) []byte {
	return data
}

// EncodeSyncBootloader builds the (empty) SyncBootloader request payload.
func EncodeSyncBootloader() []byte { return nil }
