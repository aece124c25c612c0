package tablestore

import (
	"hash/crc32"

	"github.com/andybalholm/qpl/flate"
)

// frameEncoder writes blocks in the snappy framing format, so that stored
// tables can be read back with any snappy stream reader.
type frameEncoder struct{}

var magicChunk = []byte("\xff\x06\x00\x00sNaPpY")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the chunk checksum of the framing format.
func maskedCRC(b []byte) uint32 {
	c := crc32.Update(0, castagnoli, b)
	return uint32(c>>15|c<<17) + 0xa282ead8
}

func (frameEncoder) Header(dst []byte) []byte {
	return append(dst, magicChunk...)
}

func (frameEncoder) Reset() {}

func (frameEncoder) Err() error { return nil }

// Encode appends one chunk holding src, which must not be longer than
// 64 KiB. Matches may not reach outside src.
func (frameEncoder) Encode(dst []byte, src []byte, matches []flate.Match, lastBlock bool) []byte {
	if len(src) == 0 {
		return dst
	}
	start := len(dst)
	sum := maskedCRC(src)
	dst = append(dst,
		0,       // compressed data
		0, 0, 0, // length, filled in below
		byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24),
	)
	body := len(dst)

	dst = appendUvarint(dst, uint64(len(src)))
	pos := 0
	for _, m := range matches {
		if m.Unmatched > 0 {
			dst = appendLiteral(dst, src[pos:pos+m.Unmatched])
			pos += m.Unmatched
		}
		if m.Length > 0 {
			dst = appendCopy(dst, m.Length, m.Distance)
			pos += m.Length
		}
	}
	if pos < len(src) {
		dst = appendLiteral(dst, src[pos:])
	}

	n := len(dst) - body
	if n >= len(src)-len(src)/8 {
		dst = append(dst[:body], src...)
		dst[start] = 1 // uncompressed data
		n = len(src)
	}
	n += 4
	dst[start+1] = byte(n)
	dst[start+2] = byte(n >> 8)
	dst[start+3] = byte(n >> 16)
	return dst
}

const (
	tagLiteral = 0x00
	tagCopy1   = 0x01
	tagCopy2   = 0x02
)

func appendLiteral(dst, lit []byte) []byte {
	n := len(lit) - 1
	switch {
	case n < 60:
		dst = append(dst, byte(n)<<2|tagLiteral)
	case n < 1<<8:
		dst = append(dst, 60<<2|tagLiteral, byte(n))
	default:
		dst = append(dst, 61<<2|tagLiteral, byte(n), byte(n>>8))
	}
	return append(dst, lit...)
}

// appendCopy emits a copy as 3-byte ops of at most 64 bytes, with a 2-byte
// op for a short, near tail. A tail of 65 to 67 bytes is split 60 + rest so
// that no op is shorter than 4.
func appendCopy(dst []byte, length, offset int) []byte {
	for length >= 68 {
		dst = append(dst, 63<<2|tagCopy2, byte(offset), byte(offset>>8))
		length -= 64
	}
	if length > 64 {
		dst = append(dst, 59<<2|tagCopy2, byte(offset), byte(offset>>8))
		length -= 60
	}
	if length >= 12 || offset >= 2048 || length < 4 {
		return append(dst, byte(length-1)<<2|tagCopy2, byte(offset), byte(offset>>8))
	}
	return append(dst, byte(offset>>8)<<5|byte(length-4)<<2|tagCopy1, byte(offset))
}

func appendUvarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

// blockMatcher finds matches within each block only, as the framing format
// compresses every chunk on its own.
type blockMatcher struct {
	flate.DualHash
}

func (m *blockMatcher) FindMatches(dst []flate.Match, src []byte) []flate.Match {
	m.DualHash.Reset()
	return m.DualHash.FindMatches(dst, src)
}
