package can

import "testing"

func TestPermuteGroup_Literal(t *testing.T) {
	in := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	got := permuteGroup(in)
	want := [8]byte{0x04, 0x03, 0x02, 0x01, 0x08, 0x07, 0x06, 0x05}
	if got != want {
		t.Errorf("permuteGroup(%v) = %v, want %v", in, got, want)
	}
}

func TestPermuteGroup_IsSelfInverse(t *testing.T) {
	in := [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	wire := permuteGroup(in)
	back := permuteGroup(wire)
	if back != in {
		t.Errorf("permuteGroup(permuteGroup(x)) = %v, want %v", back, in)
	}
}
