package cyacd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

const (
	headerLineHexChars = 12 // 4B silicon id + 1B rev + 1B checksum type
	rowHeaderBytes     = 5  // arrayID(1) + rowNum(2) + dataLen(2)
	rowChecksumBytes   = 1
)

// Parse reads and validates a .cyacd file from path.
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("open %s: %v", path, err)}
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader reads and validates a .cyacd image from r.
func ParseReader(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("read header: %v", err)}
		}
		return nil, &ParseError{Reason: "empty file"}
	}

	img, err := parseHeader(scanner.Text())
	if err != nil {
		return nil, err
	}

	lineNum := 1
	rowLen := make(map[byte]int)
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		row, err := parseRowLine(line)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("line %d: %v", lineNum, err)}
		}
		if n, seen := rowLen[row.ArrayID]; seen && n != len(row.Data) {
			return nil, &ParseError{Reason: fmt.Sprintf("line %d: row has %d data bytes, earlier rows of array %d have %d",
				lineNum, len(row.Data), row.ArrayID, n)}
		}
		rowLen[row.ArrayID] = len(row.Data)
		img.Rows = append(img.Rows, *row)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read file: %v", err)}
	}
	if len(img.Rows) == 0 {
		return nil, &ParseError{Reason: "no rows found"}
	}

	return img, nil
}

// parseHeader decodes the first line: 4B silicon id (big-endian), 1B
// silicon rev, 1B checksum type (0x00 sum, 0x01 CRC16).
func parseHeader(line string) (*Image, error) {
	if len(line) != headerLineHexChars {
		return nil, &ParseError{Reason: fmt.Sprintf("header length: got %d hex chars, want %d", len(line), headerLineHexChars)}
	}
	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("header hex decode: %v", err)}
	}

	siliconID := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	checksumByte := data[5]

	var kind protocol.ChecksumKind
	switch checksumByte {
	case 0x00:
		kind = protocol.ChecksumSum2Complement
	case 0x01:
		kind = protocol.ChecksumCRC16CCITT
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown checksum type 0x%02X", checksumByte)}
	}

	return &Image{
		SiliconID:    siliconID,
		SiliconRev:   data[4],
		ChecksumKind: kind,
		Rows:         make([]Row, 0, 256),
	}, nil
}

// parseRowLine decodes one row line: ":" + arrayID(1) + rowNum(2,
// big-endian) + length(2, big-endian) + data(length) + checksum(1),
// all hex-encoded. The checksum is verified as
// (-(sum of arrayID, rowHi, rowLo, lenHi, lenLo, data)) mod 256.
func parseRowLine(line string) (*Row, error) {
	if len(line) < 1 || line[0] != ':' {
		return nil, fmt.Errorf("row must start with ':'")
	}
	line = line[1:]

	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) < rowHeaderBytes+rowChecksumBytes {
		return nil, fmt.Errorf("row too short: %d bytes", len(data))
	}

	arrayID := data[0]
	rowNum := uint16(data[1])<<8 | uint16(data[2])
	length := uint16(data[3])<<8 | uint16(data[4])

	want := int(rowHeaderBytes) + int(length) + rowChecksumBytes
	if len(data) != want {
		return nil, fmt.Errorf("row length mismatch: got %d bytes, want %d (header=%d data=%d checksum=%d)",
			len(data), want, rowHeaderBytes, length, rowChecksumBytes)
	}

	rowData := data[rowHeaderBytes : rowHeaderBytes+int(length)]
	checksum := data[len(data)-1]

	want8 := rowLineChecksum(arrayID, rowNum, length, rowData)
	if checksum != want8 {
		return nil, fmt.Errorf("row checksum mismatch: got 0x%02X, want 0x%02X", checksum, want8)
	}

	return &Row{
		ArrayID:   arrayID,
		RowNumber: rowNum,
		Data:      append([]byte(nil), rowData...),
	}, nil
}

func rowLineChecksum(arrayID byte, rowNum, length uint16, data []byte) byte {
	var sum byte
	sum += arrayID
	sum += byte(rowNum >> 8)
	sum += byte(rowNum)
	sum += byte(length >> 8)
	sum += byte(length)
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
