package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request is a command frame sent to the bootloader.
type Request struct {
	Command byte
	Data    []byte
}

// Response is a decoded response frame from the bootloader.
type Response struct {
	Status byte
	Data   []byte
}

// NewRequest builds a Request for the given command code and payload.
// Payload ownership is borrowed, not copied; callers must not mutate
// Data after calling Encode.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{Command: cmd, Data: data}
}

// Encode serializes the request into a complete wire frame:
// SOP | cmd | len_lo | len_hi | payload | cksum_lo | cksum_hi | EOP.
func (r *Request) Encode(kind ChecksumKind) []byte {
	frame := make([]byte, 0, FrameOverhead+len(r.Data))
	frame = append(frame, SOP, r.Command)

	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(r.Data)))
	frame = append(frame, lenBytes...)
	frame = append(frame, r.Data...)

	cksum := Checksum(kind, frame)
	cksumBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(cksumBytes, cksum)
	frame = append(frame, cksumBytes...)

	frame = append(frame, EOP)
	return frame
}

// DecodeResponse validates and parses a complete response frame.
// It checks SOP/EOP, declared length, and checksum before accepting a
// frame. A nonzero status is returned as-is; callers
// map it to BootloaderError.
func DecodeResponse(kind ChecksumKind, frame []byte) (*Response, error) {
	if len(frame) < FrameOverhead {
		return nil, &FramingError{Reason: fmt.Sprintf("frame too short: %d bytes", len(frame))}
	}
	if frame[0] != SOP {
		return nil, &FramingError{Reason: fmt.Sprintf("bad SOP: 0x%02X", frame[0])}
	}
	if frame[len(frame)-1] != EOP {
		return nil, &FramingError{Reason: fmt.Sprintf("bad EOP: 0x%02X", frame[len(frame)-1])}
	}

	status := frame[1]
	dataLen := int(binary.LittleEndian.Uint16(frame[2:4]))
	want := FrameOverhead + dataLen
	if len(frame) != want {
		return nil, &FramingError{Reason: fmt.Sprintf("length mismatch: frame is %d bytes, declared length implies %d", len(frame), want)}
	}

	gotCksum := binary.LittleEndian.Uint16(frame[len(frame)-3 : len(frame)-1])
	wantCksum := Checksum(kind, frame[:len(frame)-3])
	if gotCksum != wantCksum {
		return nil, &ChecksumError{Kind: "frame", Reason: fmt.Sprintf("got 0x%04X, want 0x%04X", gotCksum, wantCksum)}
	}

	var data []byte
	if dataLen > 0 {
		data = frame[4 : 4+dataLen]
	}

	return &Response{Status: status, Data: data}, nil
}

// CheckStatus returns a BootloaderError if status is not StatusSuccess.
func CheckStatus(op string, status byte) error {
	if status == StatusSuccess {
		return nil
	}
	return &BootloaderError{Operation: op, Status: status}
}
