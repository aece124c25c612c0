// Package bitstream reads and writes variable-width bit fields.
//
// Both packing orders used by the engine are supported: LSBFirst, where the
// first bit of the stream is the least significant bit of the first byte
// (DEFLATE, little-endian packed elements), and MSBFirst, where it is the most
// significant bit (big-endian packed elements).
//
// Readers never consume input they cannot fully return, and writers never
// write part of a field, so a failed call can be retried once more buffer is
// available.
package bitstream

import "errors"

// Order selects how bits are packed into bytes.
type Order int

const (
	LSBFirst Order = iota
	MSBFirst
)

var (
	ErrInsufficientInput  = errors.New("bitstream: insufficient input")
	ErrInsufficientOutput = errors.New("bitstream: insufficient output space")
	ErrCount              = errors.New("bitstream: bit count out of range")
)

// A Reader reads bit fields of 0..32 bits from a logical stream made of two
// byte slices, head followed by body. The head is normally bytes carried over
// from a previous call (see Carry), the body the caller's new input.
type Reader struct {
	order Order
	head  []byte
	body  []byte

	next int // index of the next byte to load into acc
	acc  uint64
	nacc uint // valid bits in acc

	read  int // bits consumed, counted from the first bit of head
	limit int // bits that may be consumed
}

// A Mark is a saved Reader position.
type Mark struct {
	next int
	acc  uint64
	nacc uint
	read int
}

// Reset points r at the concatenation of head and body. The first skip bits
// are consumed immediately and the last ignoreEnd bits are never returned.
func (r *Reader) Reset(order Order, head, body []byte, skip, ignoreEnd int) error {
	*r = Reader{
		order: order,
		head:  head,
		body:  body,
		limit: 8*(len(head)+len(body)) - ignoreEnd,
	}
	if r.limit < 0 {
		r.limit = 0
	}
	return r.Skip(skip)
}

func (r *Reader) byteAt(i int) byte {
	if i < len(r.head) {
		return r.head[i]
	}
	return r.body[i-len(r.head)]
}

func (r *Reader) fill() {
	total := len(r.head) + len(r.body)
	for r.nacc <= 56 && r.next < total {
		b := uint64(r.byteAt(r.next))
		r.next++
		if r.order == LSBFirst {
			r.acc |= b << r.nacc
		} else {
			r.acc = r.acc<<8 | b
		}
		r.nacc += 8
	}
}

func mask(n uint) uint64 {
	return uint64(1)<<n - 1
}

// Available returns the number of bits left to read.
func (r *Reader) Available() int {
	if r.read >= r.limit {
		return 0
	}
	return r.limit - r.read
}

// PeekBits returns the next n bits without consuming them.
func (r *Reader) PeekBits(n uint) (uint32, error) {
	if n > 32 {
		return 0, ErrCount
	}
	if int(n) > r.Available() {
		return 0, ErrInsufficientInput
	}
	r.fill()
	if r.order == LSBFirst {
		return uint32(r.acc & mask(n)), nil
	}
	return uint32(r.acc >> (r.nacc - n) & mask(n)), nil
}

func (r *Reader) consume(n uint) {
	if r.order == LSBFirst {
		r.acc >>= n
	} else {
		r.acc &= mask(r.nacc - n)
	}
	r.nacc -= n
	r.read += int(n)
}

// ReadBits reads the next n bits. It fails with ErrInsufficientInput, leaving
// the cursor untouched, if fewer than n bits remain.
func (r *Reader) ReadBits(n uint) (uint32, error) {
	v, err := r.PeekBits(n)
	if err != nil {
		return 0, err
	}
	r.consume(n)
	return v, nil
}

// Skip consumes n bits.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return ErrCount
	}
	if n > r.Available() {
		return ErrInsufficientInput
	}
	for n > 0 {
		k := uint(n)
		if k > 32 {
			k = 32
		}
		r.fill()
		r.consume(k)
		n -= int(k)
	}
	return nil
}

// AlignToByte moves the cursor to the next byte boundary and returns the
// number of bits skipped.
func (r *Reader) AlignToByte() int {
	k := (8 - r.read%8) % 8
	if k > 0 {
		r.fill()
		r.consume(uint(k))
	}
	return k
}

// Position returns the number of whole bytes consumed and the number of bits
// consumed from the byte after them.
func (r *Reader) Position() (bytes, bits int) {
	return r.read / 8, r.read % 8
}

// BitsRead returns the number of bits consumed since Reset, including the
// skipped ones.
func (r *Reader) BitsRead() int {
	return r.read
}

func (r *Reader) Mark() Mark {
	return Mark{next: r.next, acc: r.acc, nacc: r.nacc, read: r.read}
}

// Restore returns r to a position saved by Mark.
func (r *Reader) Restore(m Mark) {
	r.next, r.acc, r.nacc, r.read = m.next, m.acc, m.nacc, m.read
}
