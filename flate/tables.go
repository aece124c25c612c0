package flate

import (
	"math/bits"

	"github.com/andybalholm/qpl/huffman"
)

var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtra = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the order in which a dynamic block header lists the
// code-length code.
var codeLengthOrder = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// lengthIndex maps a match length to its index in lengthBase.
var lengthIndex [maxLength + 1]uint8

func init() {
	for i := 0; i < 28; i++ {
		for l := int(lengthBase[i]); l < int(lengthBase[i])+1<<lengthExtra[i] && l <= maxLength; l++ {
			lengthIndex[l] = uint8(i)
		}
	}
	lengthIndex[maxLength] = 28
}

// distCode returns the distance symbol for d, 1 <= d <= 32768.
func distCode(d int) int {
	d--
	if d < 4 {
		return d
	}
	n := bits.Len(uint(d)) - 1
	return 2*n + (d>>(n-1))&1
}

// The fixed code of RFC 1951 section 3.2.6. The literal/length alphabet has
// 288 entries and the distance alphabet 32 so that both codes are complete;
// the extra symbols never appear in a valid stream.
var (
	fixedLitLens  [288]uint8
	fixedDistLens [32]uint8

	fixedLitCodes  []huffman.Code
	fixedDistCodes []huffman.Code

	fixedLitDecoder  *huffman.Decoder
	fixedDistDecoder *huffman.Decoder
)

func init() {
	for i := range fixedLitLens {
		switch {
		case i < 144:
			fixedLitLens[i] = 8
		case i < 256:
			fixedLitLens[i] = 9
		case i < 280:
			fixedLitLens[i] = 7
		default:
			fixedLitLens[i] = 8
		}
	}
	for i := range fixedDistLens {
		fixedDistLens[i] = 5
	}
	fixedLitCodes = huffman.AssignCodes(fixedLitLens[:])
	fixedDistCodes = huffman.AssignCodes(fixedDistLens[:])

	var err error
	if fixedLitDecoder, err = huffman.NewDecoder(fixedLitLens[:]); err != nil {
		panic(err)
	}
	if fixedDistDecoder, err = huffman.NewDecoder(fixedDistLens[:]); err != nil {
		panic(err)
	}
}
