package flate

import (
	"encoding/binary"
	"hash"
	"hash/adler32"
	"hash/crc32"
)

// Format selects the wrapper around a DEFLATE stream.
type Format int

const (
	Raw  Format = iota
	Gzip        // RFC 1952
	Zlib        // RFC 1950
)

// NewGzipEncoder wraps e to write a gzip header and trailer around its
// output. The header carries no name and a zero modification time, so equal
// input gives equal output.
func NewGzipEncoder(e *Encoder) BlockEncoder {
	return &gzipEncoder{f: e}
}

type gzipEncoder struct {
	f      *Encoder
	length uint32
	crc    uint32
}

func (g *gzipEncoder) Reset() {
	g.f.Reset()
	g.length = 0
	g.crc = 0
}

func (g *gzipEncoder) Err() error {
	return g.f.Err()
}

func (*gzipEncoder) Header(dst []byte) []byte {
	return append(dst,
		0x1f, 0x8b, // magic number
		8,          // CM = flate
		0,          // FLG
		0, 0, 0, 0, // MTIME
		0,   // XFL
		255, // OS (unspecified)
	)
}

func (g *gzipEncoder) Encode(dst []byte, src []byte, matches []Match, lastBlock bool) []byte {
	dst = g.f.Encode(dst, src, matches, lastBlock)

	g.length += uint32(len(src))
	g.crc = crc32.Update(g.crc, crc32.IEEETable, src)

	if lastBlock {
		dst = binary.LittleEndian.AppendUint32(dst, g.crc)
		dst = binary.LittleEndian.AppendUint32(dst, g.length)
	}

	return dst
}

// NewZlibEncoder wraps e to write a zlib header and Adler-32 trailer around
// its output. The level is recorded in the header.
func NewZlibEncoder(e *Encoder, level int) BlockEncoder {
	return &zlibEncoder{f: e, level: level, adler: adler32.New()}
}

type zlibEncoder struct {
	f     *Encoder
	level int
	adler hash.Hash32
}

func (z *zlibEncoder) Reset() {
	z.f.Reset()
	z.adler.Reset()
}

func (z *zlibEncoder) Err() error {
	return z.f.Err()
}

func (z *zlibEncoder) Header(dst []byte) []byte {
	// CMF 0x78 is deflate with a 32 KiB window; FLG holds FLEVEL and makes
	// the pair a multiple of 31.
	if z.level >= HighLevel {
		return append(dst, 0x78, 0xda)
	}
	return append(dst, 0x78, 0x5e)
}

func (z *zlibEncoder) Encode(dst []byte, src []byte, matches []Match, lastBlock bool) []byte {
	dst = z.f.Encode(dst, src, matches, lastBlock)
	z.adler.Write(src)
	if lastBlock {
		dst = binary.BigEndian.AppendUint32(dst, z.adler.Sum32())
	}
	return dst
}

// gzip header flags
const (
	gzipHeaderCRC = 1 << 1
	gzipExtra     = 1 << 2
	gzipName      = 1 << 3
	gzipComment   = 1 << 4
	gzipReserved  = 0xe0
)
