package bitstream

// A Carry holds the part of an input stream that a decoder has not finished
// with when a call returns, so that the caller never has to resubmit input it
// was told had been consumed.
//
// A Carry owns its bytes; it never keeps a reference to the caller's buffer.
type Carry struct {
	buf []byte
	bit int // bits of buf[0] already consumed
}

// Attach resets r to read the carried bytes followed by src.
func (c *Carry) Attach(r *Reader, order Order, src []byte, ignoreEnd int) error {
	return r.Reset(order, c.buf, src, c.bit, ignoreEnd)
}

// Settle records where r stopped and returns how many bytes of src count as
// consumed. If exhausted is set, every byte of src is reported consumed and
// the unread remainder is copied into the carry; otherwise only whole bytes
// are consumed and the bit offset into the next byte is remembered.
func (c *Carry) Settle(r *Reader, src []byte, exhausted bool) int {
	b, bit := r.Position()
	head := c.buf
	if exhausted {
		total := len(head) + len(src)
		if b > total {
			b = total
		}
		tail := make([]byte, 0, total-b)
		if b < len(head) {
			tail = append(tail, head[b:]...)
			tail = append(tail, src...)
		} else {
			tail = append(tail, src[b-len(head):]...)
		}
		c.buf = tail
		c.bit = bit
		if len(tail) == 0 {
			c.bit = 0
		}
		return len(src)
	}
	c.bit = bit
	if b < len(head) {
		c.buf = head[b:]
		return 0
	}
	c.buf = nil
	return b - len(head)
}

// Len returns the number of carried bytes.
func (c *Carry) Len() int {
	return len(c.buf)
}

// Offset returns the number of bits of the next byte that were already
// consumed.
func (c *Carry) Offset() int {
	return c.bit
}

func (c *Carry) Reset() {
	c.buf = nil
	c.bit = 0
}
