package analytics

import "hash/crc32"

// Checksums are computed over the input a Processor consumes, and over its
// output when asked.
type Checksums struct {
	CRC32       uint32 // CRC-32 (IEEE)
	XOR         uint32 // XOR of the input as 16-bit little-endian words
	OutputCRC32 uint32
}

// A Checksummer computes the input checksums incrementally. A trailing odd
// byte is held until the next Write, so the result does not depend on how
// the input is split.
type Checksummer struct {
	crc uint32
	xor uint16
	odd bool
	low byte
}

func (c *Checksummer) Write(p []byte) (int, error) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
	for _, b := range p {
		if c.odd {
			c.xor ^= uint16(c.low) | uint16(b)<<8
			c.odd = false
		} else {
			c.low = b
			c.odd = true
		}
	}
	return len(p), nil
}

func (c *Checksummer) Reset() {
	*c = Checksummer{}
}

func (c *Checksummer) CRC32() uint32 {
	return c.crc
}

// XOR returns the XOR checksum, with a trailing odd byte as the low half of
// a final word.
func (c *Checksummer) XOR() uint32 {
	x := c.xor
	if c.odd {
		x ^= uint16(c.low)
	}
	return uint32(x)
}
