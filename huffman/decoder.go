package huffman

import "github.com/andybalholm/qpl/bitstream"

const (
	fastBits = 9
	fastMask = 1<<fastBits - 1
)

// A Decoder maps LSB-first prefix codes back to symbols. Codes up to fastBits
// long are resolved with one table lookup; longer ones fall back to a walk of
// the canonical code, one bit at a time.
type Decoder struct {
	fast   [1 << fastBits]uint16 // sym<<4 | len; 0 if the code is longer than fastBits
	count  [MaxBits + 1]uint16
	symbol []uint16 // symbols sorted by (length, symbol)
	maxLen uint
}

// NewDecoder returns a Decoder for the code with the given lengths.
func NewDecoder(lens []uint8) (*Decoder, error) {
	if err := checkLengths(lens); err != nil {
		return nil, err
	}
	d := new(Decoder)
	for _, l := range lens {
		if l > 0 {
			d.count[l]++
			if uint(l) > d.maxLen {
				d.maxLen = uint(l)
			}
		}
	}

	var offs [MaxBits + 2]int
	for b := 1; b <= MaxBits; b++ {
		offs[b+1] = offs[b] + int(d.count[b])
	}
	d.symbol = make([]uint16, offs[MaxBits+1])
	for sym, l := range lens {
		if l > 0 {
			d.symbol[offs[l]] = uint16(sym)
			offs[l]++
		}
	}

	codes := AssignCodes(lens)
	for sym, c := range codes {
		if c.Len == 0 || c.Len > fastBits {
			continue
		}
		entry := uint16(sym)<<4 | uint16(c.Len)
		for j := int(c.Bits); j < len(d.fast); j += 1 << c.Len {
			d.fast[j] = entry
		}
	}
	return d, nil
}

// Decode reads one symbol from r. If r runs out of bits before a complete
// code is seen, it returns bitstream.ErrInsufficientInput and consumes
// nothing.
func (d *Decoder) Decode(r *bitstream.Reader) (int, error) {
	if d.maxLen == 0 {
		return 0, ErrInvalidCode
	}
	n := uint(r.Available())
	if n == 0 {
		return 0, bitstream.ErrInsufficientInput
	}
	if n > d.maxLen {
		n = d.maxLen
	}
	v, err := r.PeekBits(n)
	if err != nil {
		return 0, err
	}

	if e := d.fast[v&fastMask]; e != 0 {
		l := uint(e & 15)
		if l > n {
			return 0, bitstream.ErrInsufficientInput
		}
		r.Skip(int(l))
		return int(e >> 4), nil
	}

	code, first, index := 0, 0, 0
	for l := uint(1); l <= d.maxLen; l++ {
		if l > n {
			return 0, bitstream.ErrInsufficientInput
		}
		code |= int(v>>(l-1)) & 1
		count := int(d.count[l])
		if code-first < count {
			r.Skip(int(l))
			return int(d.symbol[index+code-first]), nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, ErrInvalidCode
}
