// Package analytics filters streams of packed unsigned integers.
//
// A Processor decodes elements of a configured bit width, applies one
// operation to each of them in order (scan, extract, select or expand), and
// packs the results at a configured output width, keeping aggregates and
// checksums as it goes. Like the flate decoder, it can stop at any element
// boundary when input or output runs out and carry on when called again.
package analytics

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/andybalholm/qpl/bitstream"
)

// Format is the layout of an element stream.
type Format int

const (
	// LittleEndian packs elements LSB-first, the first element in the low
	// bits of the first byte.
	LittleEndian Format = iota

	// BigEndian packs elements MSB-first.
	BigEndian

	// PRLE is the run-length/bit-packed hybrid used by Parquet. The first
	// byte holds the bit width. Each run starts with a ULEB128 header h. If
	// h is even, the run is h>>1 copies of one value stored in ceil(width/8)
	// little-endian bytes. If h is odd, it is h>>1 groups of 8 values packed
	// LSB-first.
	PRLE
)

func (f Format) String() string {
	switch f {
	case LittleEndian:
		return "le"
	case BigEndian:
		return "be"
	case PRLE:
		return "prle"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// OutputWidth is the width of the elements a Processor writes.
type OutputWidth int

const (
	SameAsInput OutputWidth = 0
	Width8      OutputWidth = 8
	Width16     OutputWidth = 16
	Width32     OutputWidth = 32
)

var (
	ErrInvalidWidth        = errors.New("analytics: invalid bit width")
	ErrInvalidParameter    = errors.New("analytics: invalid parameter")
	ErrOutputWidthOverflow = errors.New("analytics: value does not fit the output width")
	ErrCorrupt             = errors.New("analytics: corrupt element stream")
	ErrMoreInput           = errors.New("analytics: more input needed")
	ErrMoreOutput          = errors.New("analytics: output buffer is full")
	ErrOutputTooSmall      = errors.New("analytics: output buffer cannot hold one element")
	ErrTruncated           = errors.New("analytics: input ends before the last element")
)

// fits reports whether v can be written in width bits.
func fits[T constraints.Unsigned](v T, width uint) bool {
	return width >= 64 || uint64(v)>>width == 0
}

func minOf[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func maxOf[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// An elementDecoder reads one element at a time. It is a plain value so that
// a Processor can snapshot it together with the reader and roll both back
// when an element cannot be completed.
type elementDecoder struct {
	format Format
	width  uint

	// PRLE state. Runs are expanded one element at a time.
	started bool
	runLeft int
	rle     bool
	value   uint32
}

func (e *elementDecoder) next(r *bitstream.Reader) (uint32, error) {
	if e.format != PRLE {
		return r.ReadBits(e.width)
	}
	if err := e.start(r); err != nil {
		return 0, err
	}
	for e.runLeft == 0 {
		h, err := readUvarint(r)
		if err != nil {
			return 0, err
		}
		if h&1 == 0 {
			e.rle = true
			e.runLeft = int(h >> 1)
			var v uint32
			for i := uint(0); i < (e.width+7)/8; i++ {
				b, err := r.ReadBits(8)
				if err != nil {
					return 0, err
				}
				v |= b << (8 * i)
			}
			e.value = v & uint32(1<<e.width-1)
		} else {
			e.rle = false
			e.runLeft = int(h>>1) * 8
		}
	}
	if e.rle {
		e.runLeft--
		return e.value, nil
	}
	v, err := r.ReadBits(e.width)
	if err != nil {
		return 0, err
	}
	e.runLeft--
	return v, nil
}

// start reads the bit width at the head of a PRLE stream.
func (e *elementDecoder) start(r *bitstream.Reader) error {
	if e.format != PRLE || e.started {
		return nil
	}
	w, err := r.ReadBits(8)
	if err != nil {
		return err
	}
	if w == 0 || w > 32 {
		return fmt.Errorf("%w: bit width %d", ErrCorrupt, w)
	}
	e.width = uint(w)
	e.started = true
	return nil
}

func readUvarint(r *bitstream.Reader) (uint64, error) {
	var x uint64
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.ReadBits(8)
		if err != nil {
			return 0, err
		}
		x |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return x, nil
		}
	}
	return 0, fmt.Errorf("%w: run header too long", ErrCorrupt)
}

// AppendPRLE appends values to dst in PRLE format with the given bit width.
// Runs of 8 or more equal values become RLE runs; everything else is
// bit-packed, with the last group padded with zeros.
func AppendPRLE[T constraints.Unsigned](dst []byte, values []T, width int) ([]byte, error) {
	if width < 1 || width > 32 {
		return dst, ErrInvalidWidth
	}
	for _, v := range values {
		if !fits(v, uint(width)) {
			return dst, ErrOutputWidthOverflow
		}
	}
	dst = append(dst, byte(width))

	runAt := func(i int) int {
		n := 1
		for i+n < len(values) && values[i+n] == values[i] {
			n++
		}
		return n
	}

	w := bitstream.NewWriter(bitstream.LSBFirst)
	for i := 0; i < len(values); {
		if n := runAt(i); n >= 8 {
			dst = appendUvarint(dst, uint64(n)<<1)
			v := uint64(values[i])
			for k := 0; k < (width+7)/8; k++ {
				dst = append(dst, byte(v>>(8*k)))
			}
			i += n
			continue
		}
		start := i
		groups := 0
		for i < len(values) && (i == start || runAt(i) < 8) {
			i += 8
			groups++
		}
		dst = appendUvarint(dst, uint64(groups)<<1|1)
		w.SetAppend(dst)
		for k := start; k < start+8*groups; k++ {
			var v uint32
			if k < len(values) {
				v = uint32(values[k])
			}
			w.PutBits(v, uint(width))
		}
		dst = w.Bytes()
		if i > len(values) {
			i = len(values)
		}
	}
	return dst, nil
}

func appendUvarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}
