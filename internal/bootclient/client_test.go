package bootclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

// fakeTransport is a scripted transport.Transport: each Send is
// expected to be followed by exactly one Receive, which returns the
// next queued response frame (or error).
type fakeTransport struct {
	responses [][]byte
	errs      []error
	sent      [][]byte
	pos       int
}

func (f *fakeTransport) Send(ctx context.Context, packet []byte) error {
	cp := append([]byte(nil), packet...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if f.pos >= len(f.responses) {
		return nil, errors.New("fakeTransport: no more scripted responses")
	}
	resp, err := f.responses[f.pos], f.errs[f.pos]
	f.pos++
	return resp, err
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) queueResponse(resp *protocol.Response, kind protocol.ChecksumKind) {
	frame := encodeResponse(resp, kind)
	f.responses = append(f.responses, frame)
	f.errs = append(f.errs, nil)
}

func (f *fakeTransport) queueError(err error) {
	f.responses = append(f.responses, nil)
	f.errs = append(f.errs, err)
}

// encodeResponse builds a wire frame for a response, mirroring what a
// real bootloader would send back (protocol.Response has no Encode of
// its own since only the host encodes requests and the device encodes
// responses).
func encodeResponse(resp *protocol.Response, kind protocol.ChecksumKind) []byte {
	req := protocol.NewRequest(resp.Status, resp.Data)
	return req.Encode(kind)
}

func TestClient_EnterBootloader(t *testing.T) {
	ft := &fakeTransport{}
	data := []byte{
		0x44, 0x33, 0x22, 0x11, // silicon id, little-endian -> 0x11223344
		0x05,             // silicon rev
		0x01, 0x02, 0x03, // bootloader version
	}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess, Data: data}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	id, err := c.EnterBootloader(context.Background())
	if err != nil {
		t.Fatalf("EnterBootloader() error = %v", err)
	}
	if id.SiliconID != 0x11223344 {
		t.Errorf("SiliconID = 0x%X, want 0x11223344", id.SiliconID)
	}
	if id.SiliconRev != 0x05 {
		t.Errorf("SiliconRev = 0x%X, want 0x05", id.SiliconRev)
	}
	if len(ft.sent) != 1 {
		t.Fatalf("got %d sent frames, want 1", len(ft.sent))
	}
	if ft.sent[0][1] != protocol.CmdEnterBootloader {
		t.Errorf("sent command = 0x%02X, want 0x%02X", ft.sent[0][1], protocol.CmdEnterBootloader)
	}
}

func TestClient_EnterBootloader_BadStatus(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusBadChecksum}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	if _, err := c.EnterBootloader(context.Background()); err == nil {
		t.Fatal("expected error for non-success status")
	} else if be, ok := protocol.IsBootloaderError(err); !ok || be.Status != protocol.StatusBadChecksum {
		t.Errorf("error = %v, want BootloaderError{Status: BadChecksum}", err)
	}
}

func TestClient_ProgramRow(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	if err := c.ProgramRow(context.Background(), 0x00, 0x0010, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("ProgramRow() error = %v", err)
	}
}

func TestClient_VerifyRow(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess, Data: []byte{0x42}}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	checksum, err := c.VerifyRow(context.Background(), 0x00, 0x0010)
	if err != nil {
		t.Fatalf("VerifyRow() error = %v", err)
	}
	if checksum != 0x42 {
		t.Errorf("checksum = 0x%02X, want 0x42", checksum)
	}
}

func TestClient_VerifyChecksum(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess, Data: []byte{0x01}}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	valid, err := c.VerifyChecksum(context.Background())
	if err != nil {
		t.Fatalf("VerifyChecksum() error = %v", err)
	}
	if !valid {
		t.Error("valid = false, want true")
	}
}

func TestClient_GetFlashSize(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess, Data: []byte{0x00, 0x00, 0x7F, 0x00}}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	info, err := c.GetFlashSize(context.Background(), 0x00)
	if err != nil {
		t.Fatalf("GetFlashSize() error = %v", err)
	}
	if info.FirstRow != 0 || info.LastRow != 0x7F {
		t.Errorf("got first=%d last=%d, want first=0 last=127", info.FirstRow, info.LastRow)
	}
}

func TestClient_Receive_TransportError(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueError(&protocol.TimeoutError{Op: "receive"})

	c := New(ft, protocol.ChecksumSum2Complement)
	if _, err := c.EnterBootloader(context.Background()); err == nil {
		t.Fatal("expected error when transport receive fails")
	}
}

func TestClient_EnterBootloaderRepetitive_SingleTry(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueError(&protocol.TimeoutError{Op: "receive"})

	c := New(ft, protocol.ChecksumSum2Complement)
	_, attempts, err := c.EnterBootloaderRepetitive(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error on single-try timeout")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestClient_EnterBootloaderRepetitive_RetriesThenSucceeds(t *testing.T) {
	ft := &fakeTransport{}
	for i := 0; i < 5; i++ {
		ft.queueError(&protocol.TimeoutError{Op: "receive"})
	}
	ft.queueResponse(&protocol.Response{
		Status: protocol.StatusSuccess,
		Data:   []byte{0x44, 0x33, 0x22, 0x11, 0x05, 0x01, 0x02, 0x03},
	}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	start := time.Now()
	id, attempts, err := c.EnterBootloaderRepetitive(context.Background(), time.Second)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("EnterBootloaderRepetitive() error = %v", err)
	}
	if attempts < 6 {
		t.Errorf("attempts = %d, want at least 6", attempts)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 500ms", elapsed)
	}
	if id.SiliconID != 0x11223344 {
		t.Errorf("SiliconID = 0x%X, want 0x11223344", id.SiliconID)
	}
}

func TestClient_EnterBootloaderRepetitive_BadKeyNotRetried(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusBadKey}, protocol.ChecksumSum2Complement)

	c := New(ft, protocol.ChecksumSum2Complement)
	_, attempts, err := c.EnterBootloaderRepetitive(context.Background(), time.Second)
	if err == nil {
		t.Fatal("expected error for bad key")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (bad key should not retry)", attempts)
	}
}

func TestClient_ExitBootloader(t *testing.T) {
	ft := &fakeTransport{}
	ft.queueResponse(&protocol.Response{Status: protocol.StatusSuccess}, protocol.ChecksumCRC16CCITT)

	c := New(ft, protocol.ChecksumCRC16CCITT)
	if err := c.ExitBootloader(context.Background()); err != nil {
		t.Fatalf("ExitBootloader() error = %v", err)
	}
}
