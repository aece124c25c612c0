package bitstream

// A Writer packs bit fields into bytes.
//
// A Writer set up with SetOutput writes into a fixed buffer and fails with
// ErrInsufficientOutput rather than write part of a field. One set up with
// SetAppend grows its buffer as needed. Either way, bits that do not yet fill
// a byte stay in the Writer and carry over to the next buffer.
type Writer struct {
	order Order
	buf   []byte
	limit int // maximum len(buf), or -1 when unbounded
	acc   uint64
	nacc  uint
}

// A WriterMark is a saved Writer position.
type WriterMark struct {
	n    int
	acc  uint64
	nacc uint
}

func NewWriter(order Order) *Writer {
	return &Writer{order: order, limit: -1}
}

func (w *Writer) SetOrder(o Order) {
	w.order = o
}

// SetOutput directs whole bytes into dst, which bounds the output.
func (w *Writer) SetOutput(dst []byte) {
	w.buf = dst[:0]
	w.limit = len(dst)
}

// SetAppend directs whole bytes onto the end of dst without bound.
func (w *Writer) SetAppend(dst []byte) {
	w.buf = dst
	w.limit = -1
}

// Reset drops any pending bits.
func (w *Writer) Reset() {
	w.acc = 0
	w.nacc = 0
}

// Bytes returns the buffer with the whole bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of whole bytes in the buffer.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Pending returns the number of bits waiting for a byte to fill.
func (w *Writer) Pending() int {
	return int(w.nacc)
}

func (w *Writer) room() int {
	if w.limit < 0 {
		return int(^uint(0) >> 1)
	}
	return (w.limit-len(w.buf))*8 - int(w.nacc)
}

// WriteBits writes the low n bits of v. It fails with ErrInsufficientOutput,
// writing nothing, if there is no room for all n bits.
func (w *Writer) WriteBits(v uint32, n uint) error {
	if n > 32 {
		return ErrCount
	}
	if int(n) > w.room() {
		return ErrInsufficientOutput
	}
	w.PutBits(v, n)
	return nil
}

// PutBits writes the low n bits of v without checking for room. It is meant
// for writers set up with SetAppend.
func (w *Writer) PutBits(v uint32, n uint) {
	x := uint64(v) & mask(n)
	if w.order == LSBFirst {
		w.acc |= x << w.nacc
		w.nacc += n
		for w.nacc >= 8 {
			w.buf = append(w.buf, byte(w.acc))
			w.acc >>= 8
			w.nacc -= 8
		}
		return
	}
	w.acc = w.acc<<n | x
	w.nacc += n
	for w.nacc >= 8 {
		w.buf = append(w.buf, byte(w.acc>>(w.nacc-8)))
		w.nacc -= 8
	}
	w.acc &= mask(w.nacc)
}

// PutBytes appends whole bytes. The writer must be byte aligned.
func (w *Writer) PutBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// Flush pads the pending bits with zeros to a byte boundary and writes the
// byte. It returns the number of padding bits.
func (w *Writer) Flush() (int, error) {
	if w.nacc == 0 {
		return 0, nil
	}
	if w.limit >= 0 && len(w.buf) >= w.limit {
		return 0, ErrInsufficientOutput
	}
	pad := 8 - int(w.nacc)
	w.PutBits(0, uint(pad))
	return pad, nil
}

func (w *Writer) Mark() WriterMark {
	return WriterMark{n: len(w.buf), acc: w.acc, nacc: w.nacc}
}

// Restore discards everything written since m was taken.
func (w *Writer) Restore(m WriterMark) {
	w.buf = w.buf[:m.n]
	w.acc, w.nacc = m.acc, m.nacc
}
