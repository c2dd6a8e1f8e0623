package serial

import "github.com/bigbag/cyacd-flasher/internal/protocol"

// ScanFrame looks for one complete bootloader frame in buf: SOP,
// cmd/status, 2-byte length, that many payload bytes, 2-byte checksum,
// EOP. Bytes preceding the first SOP are junk and are discarded along
// with the frame itself. It returns the frame and the bytes remaining
// after it, or ok=false if no complete frame starts at the first SOP:
// either more data must be read, or (when the byte at the declared end
// is not EOP) that SOP is dropped and remaining can be scanned again.
func ScanFrame(buf []byte) (frame []byte, remaining []byte, ok bool) {
	start := -1
	for i, b := range buf {
		if b == protocol.SOP {
			start = i
			break
		}
	}
	if start == -1 {
		// No SOP at all: everything is junk.
		return nil, nil, false
	}

	const headerLen = 4 // SOP + cmd/status + len_lo + len_hi
	if len(buf)-start < headerLen {
		return nil, buf[start:], false
	}

	length := int(buf[start+2]) | int(buf[start+3])<<8
	total := headerLen + length + 3 // + checksum(2) + EOP
	if len(buf)-start < total {
		return nil, buf[start:], false
	}

	end := start + total
	if buf[end-1] != protocol.EOP {
		// Not a valid frame at this SOP; drop just this byte and let the
		// caller rescan from the next one, in case SOP also occurs
		// legitimately inside the payload.
		return nil, buf[start+1:], false
	}

	return buf[start:end], buf[end:], true
}
