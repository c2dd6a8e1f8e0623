package can

import (
	"testing"

	"github.com/bigbag/cyacd-flasher/internal/protocol"
)

// splitIntoGroups mimics Send's chunking+permutation for tests that
// don't open a real bus.
func splitIntoGroups(packet []byte) [][8]byte {
	var groups [][8]byte
	for off := 0; off < len(packet); off += 8 {
		var g [8]byte
		copy(g[:], packet[off:])
		groups = append(groups, permuteGroup(g))
	}
	return groups
}

func TestAssemble_RoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 7, 8, 9, 16, 20, 64} {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i)
		}
		packet := protocol.NewRequest(protocol.CmdProgramRow, data).Encode(protocol.ChecksumSum2Complement)

		wireGroups := splitIntoGroups(packet)

		tr := &Transport{}
		for _, wire := range wireGroups {
			tr.inbox = append(tr.inbox, permuteGroup(wire))
		}

		got, ok := tr.tryAssemble()
		if !ok {
			t.Fatalf("length=%d: tryAssemble did not find a complete packet", length)
		}
		if string(got) != string(packet) {
			t.Errorf("length=%d: reassembled = %v, want %v", length, got, packet)
		}
	}
}

func TestAssemble_IncompleteReturnsNotOK(t *testing.T) {
	packet := protocol.NewRequest(protocol.CmdEraseRow, []byte{0x00, 0x01, 0x00}).Encode(protocol.ChecksumSum2Complement)
	wireGroups := splitIntoGroups(packet)

	tr := &Transport{}
	// Only deliver the first group of the two-group packet.
	tr.inbox = append(tr.inbox, permuteGroup(wireGroups[0]))
	if _, ok := tr.tryAssemble(); ok {
		t.Fatal("expected ok=false with only the first of two groups delivered")
	}
}

func TestScenario_ElevenByteReassembly(t *testing.T) {
	// An 11-byte logical payload spans ceil(11/8)=2 CAN groups.
	logical := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B}
	groups := splitIntoGroups(logical)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	tr := &Transport{}
	for _, wire := range groups {
		tr.inbox = append(tr.inbox, permuteGroup(wire))
	}

	var reassembled []byte
	for _, g := range tr.inbox {
		reassembled = append(reassembled, g[:]...)
	}
	if string(reassembled[:len(logical)]) != string(logical) {
		t.Errorf("reassembled = %v, want prefix %v", reassembled, logical)
	}
}
