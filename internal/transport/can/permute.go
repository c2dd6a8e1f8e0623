package can

// bytePermutation is the firmware-observed payload byte-order quirk:
// each 8-byte group is transmitted with its bytes
// reordered by this permutation relative to logical order. The
// permutation swaps the pairs (0,3), (1,2), (4,7), (5,6), so applying
// it a second time undoes it; the host uses the same function for both
// directions.
var bytePermutation = [8]int{3, 2, 1, 0, 7, 6, 5, 4}

// permuteGroup reorders one 8-byte group per bytePermutation.
func permuteGroup(in [8]byte) [8]byte {
	var out [8]byte
	for i, src := range bytePermutation {
		out[i] = in[src]
	}
	return out
}
