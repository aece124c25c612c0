package flate

import (
	"fmt"

	"github.com/andybalholm/qpl/bitstream"
	"github.com/andybalholm/qpl/huffman"
)

// A token is one element of a block: a literal byte, or a match with its
// length and distance packed below matchFlag.
type token uint32

const matchFlag token = 1 << 31

func matchToken(length, dist int) token {
	return matchFlag | token(length)<<15 | token(dist-1)
}

func (t token) length() int { return int(t>>15) & 0x1ff }
func (t token) dist() int   { return int(t&0x7fff) + 1 }

// appendTokens turns src and its matches into tokens. With literals set,
// matched bytes become literals too.
func appendTokens(dst []token, src []byte, matches []Match, literals bool) []token {
	pos := 0
	for _, m := range matches {
		for _, b := range src[pos : pos+m.Unmatched] {
			dst = append(dst, token(b))
		}
		pos += m.Unmatched
		if m.Length == 0 {
			continue
		}
		if literals {
			for _, b := range src[pos : pos+m.Length] {
				dst = append(dst, token(b))
			}
		} else {
			dst = append(dst, matchToken(m.Length, m.Distance))
		}
		pos += m.Length
	}
	for _, b := range src[pos:] {
		dst = append(dst, token(b))
	}
	return dst
}

// countTokens adds the symbols in tokens to the histogram and returns the
// number of extra bits they need.
func countTokens(h *huffman.Histogram, tokens []token) int {
	extra := 0
	for _, t := range tokens {
		if t&matchFlag == 0 {
			h.LitLen[t]++
			continue
		}
		li := lengthIndex[t.length()]
		h.LitLen[257+int(li)]++
		extra += int(lengthExtra[li])
		dc := distCode(t.dist())
		h.Dist[dc]++
		extra += int(distExtra[dc])
	}
	return extra
}

// An Encoder writes DEFLATE blocks.
//
// Without a Table, each block is written as whichever of stored, fixed or
// dynamic Huffman is smallest, and the output is a standard DEFLATE stream.
// With a Table, the Encoder works in canned mode: no block headers, every
// symbol coded with the Table, and a single end-of-block code after the last
// block.
type Encoder struct {
	// Table selects canned mode. It must be able to compress.
	Table *huffman.Table

	// Literals writes every byte as a literal, ignoring matches. In canned
	// mode the stream then carries no end-of-block code either.
	Literals bool

	w        bitstream.Writer
	tokens   []token
	hist     huffman.Histogram
	extra    int
	hdr      dynamicHeader
	lastBits int
	err      error
}

func NewEncoder() *Encoder {
	return new(Encoder)
}

// Header appends nothing: a raw DEFLATE stream has no header.
func (e *Encoder) Header(dst []byte) []byte {
	return dst
}

func (e *Encoder) Reset() {
	e.w.Reset()
	e.lastBits = 0
	e.err = nil
}

// Err returns the error that stopped the encoder, if any.
func (e *Encoder) Err() error {
	return e.err
}

// LastBitOffset returns the number of meaningful bits in the final byte of
// the stream, or 0 if the stream ended on a byte boundary.
func (e *Encoder) LastBitOffset() int {
	return e.lastBits
}

// Encode appends the encoded form of src to dst. Bits that do not fill a byte
// are held until the next call; the last block is padded out to a byte.
func (e *Encoder) Encode(dst []byte, src []byte, matches []Match, lastBlock bool) []byte {
	e.w.SetAppend(dst)
	if e.err == nil {
		e.tokens = appendTokens(e.tokens[:0], src, matches, e.Literals)
		if e.Table != nil {
			e.writeCanned(lastBlock)
		} else {
			e.writeBlock(src, lastBlock)
		}
	}
	if lastBlock {
		e.lastBits = e.w.Pending()
		e.w.Flush()
	}
	return e.w.Bytes()
}

func (e *Encoder) putCode(c huffman.Code, sym int) bool {
	if c.Len == 0 {
		e.err = fmt.Errorf("%w: symbol %d", ErrMissingCode, sym)
		return false
	}
	e.w.PutBits(uint32(c.Bits), uint(c.Len))
	return true
}

func (e *Encoder) writeCanned(last bool) {
	t := e.Table
	if !t.Ready() || !t.Kind().Compresses() {
		e.err = huffman.ErrTableKind
		return
	}
	for _, tok := range e.tokens {
		if tok&matchFlag == 0 {
			if !e.putCode(t.LitLen(int(tok)), int(tok)) {
				return
			}
			continue
		}
		l := tok.length()
		li := int(lengthIndex[l])
		if !e.putCode(t.LitLen(257+li), 257+li) {
			return
		}
		e.w.PutBits(uint32(l-int(lengthBase[li])), uint(lengthExtra[li]))
		d := tok.dist()
		dc := distCode(d)
		if !e.putCode(t.Dist(dc), dc) {
			return
		}
		e.w.PutBits(uint32(d-int(distBase[dc])), uint(distExtra[dc]))
	}
	if last && !e.Literals {
		e.putCode(t.LitLen(huffman.EndOfBlock), huffman.EndOfBlock)
	}
}

func (e *Encoder) writeBlockHeader(last bool, typ uint32) {
	var final uint32
	if last {
		final = 1
	}
	e.w.PutBits(final|typ<<1, 3)
}

func (e *Encoder) writeBlock(src []byte, last bool) {
	if len(src) == 0 {
		if last {
			e.writeBlockHeader(true, 1)
			c := fixedLitCodes[huffman.EndOfBlock]
			e.w.PutBits(uint32(c.Bits), uint(c.Len))
		}
		return
	}

	e.hist.Reset()
	e.extra = countTokens(&e.hist, e.tokens)
	e.hist.LitLen[huffman.EndOfBlock] = 1

	litLens := huffman.BuildLengths(atLeastTwo(e.hist.LitLen[:]), huffman.MaxBits)
	distLens := huffman.BuildLengths(atLeastTwo(e.hist.Dist[:]), huffman.MaxBits)
	e.hdr.build(litLens, distLens)

	dynamicCost := 3 + e.hdr.bits + e.dataBits(litLens, distLens)
	fixedCost := 3 + e.dataBits(fixedLitLens[:], fixedDistLens[:])
	storedCost := e.storedBits(len(src))

	switch {
	case storedCost <= fixedCost && storedCost <= dynamicCost:
		e.writeStored(src, last)
	case fixedCost <= dynamicCost:
		e.writeBlockHeader(last, 1)
		e.writeTokens(fixedLitCodes, fixedDistCodes)
	default:
		e.writeBlockHeader(last, 2)
		e.hdr.write(&e.w)
		e.writeTokens(huffman.AssignCodes(litLens), huffman.AssignCodes(distLens))
	}
}

// atLeastTwo returns freq, or a copy of it with extra symbols counted, so
// that at least two symbols have nonzero counts. Some decoders reject a code
// with a single symbol.
func atLeastTwo(freq []uint32) []uint32 {
	n := 0
	for _, c := range freq {
		if c != 0 {
			n++
		}
	}
	if n >= 2 {
		return freq
	}
	f := append([]uint32(nil), freq...)
	for i := 0; i < len(f) && n < 2; i++ {
		if f[i] == 0 {
			f[i] = 1
			n++
		}
	}
	return f
}

// dataBits returns the size of the block's symbols coded with the given
// lengths.
func (e *Encoder) dataBits(litLens, distLens []uint8) int {
	total := e.extra
	for sym, c := range e.hist.LitLen {
		total += int(c) * int(litLens[sym])
	}
	for sym, c := range e.hist.Dist {
		total += int(c) * int(distLens[sym])
	}
	return total
}

const maxStoredBlock = 65535

func (e *Encoder) storedBits(n int) int {
	pending := e.w.Pending()
	total := 0
	for {
		k := n
		if k > maxStoredBlock {
			k = maxStoredBlock
		}
		pad := (8 - (pending+3)%8) % 8
		total += 3 + pad + 32 + 8*k
		pending = 0
		n -= k
		if n == 0 {
			return total
		}
	}
}

func (e *Encoder) writeStored(src []byte, last bool) {
	for {
		n := len(src)
		if n > maxStoredBlock {
			n = maxStoredBlock
		}
		e.writeBlockHeader(last && n == len(src), 0)
		e.w.Flush()
		e.w.PutBits(uint32(n), 16)
		e.w.PutBits(^uint32(n)&0xffff, 16)
		e.w.PutBytes(src[:n])
		src = src[n:]
		if len(src) == 0 {
			return
		}
	}
}

func (e *Encoder) writeTokens(litCodes, distCodes []huffman.Code) {
	for _, tok := range e.tokens {
		if tok&matchFlag == 0 {
			c := litCodes[tok]
			e.w.PutBits(uint32(c.Bits), uint(c.Len))
			continue
		}
		l := tok.length()
		li := int(lengthIndex[l])
		c := litCodes[257+li]
		e.w.PutBits(uint32(c.Bits), uint(c.Len))
		e.w.PutBits(uint32(l-int(lengthBase[li])), uint(lengthExtra[li]))
		d := tok.dist()
		dc := distCode(d)
		c = distCodes[dc]
		e.w.PutBits(uint32(c.Bits), uint(c.Len))
		e.w.PutBits(uint32(d-int(distBase[dc])), uint(distExtra[dc]))
	}
	c := litCodes[huffman.EndOfBlock]
	e.w.PutBits(uint32(c.Bits), uint(c.Len))
}

// A dynamicHeader is the code description at the start of a dynamic block.
type dynamicHeader struct {
	hlit, hdist, hclen int
	clLens             []uint8
	clCodes            []huffman.Code
	syms               []uint8 // code-length symbols
	extras             []uint8 // extra bits for symbols 16, 17 and 18
	bits               int
}

var clExtraBits = [19]uint8{16: 2, 17: 3, 18: 7}

func (h *dynamicHeader) build(litLens, distLens []uint8) {
	h.hlit = huffman.NumLitLen
	for h.hlit > 257 && litLens[h.hlit-1] == 0 {
		h.hlit--
	}
	h.hdist = huffman.NumDist
	for h.hdist > 1 && distLens[h.hdist-1] == 0 {
		h.hdist--
	}

	all := make([]uint8, 0, h.hlit+h.hdist)
	all = append(all, litLens[:h.hlit]...)
	all = append(all, distLens[:h.hdist]...)

	h.syms, h.extras = h.syms[:0], h.extras[:0]
	for i := 0; i < len(all); {
		v := all[i]
		run := 1
		for i+run < len(all) && all[i+run] == v {
			run++
		}
		i += run
		if v == 0 {
			for run >= 11 {
				k := run
				if k > 138 {
					k = 138
				}
				h.add(18, uint8(k-11))
				run -= k
			}
			if run >= 3 {
				h.add(17, uint8(run-3))
				run = 0
			}
		} else {
			h.add(v, 0)
			run--
			for run >= 3 {
				k := run
				if k > 6 {
					k = 6
				}
				h.add(16, uint8(k-3))
				run -= k
			}
		}
		for ; run > 0; run-- {
			h.add(v, 0)
		}
	}

	var freq [19]uint32
	for _, s := range h.syms {
		freq[s]++
	}
	h.clLens = huffman.BuildLengths(atLeastTwo(freq[:]), 7)
	h.clCodes = huffman.AssignCodes(h.clLens)

	h.hclen = 19
	for h.hclen > 4 && h.clLens[codeLengthOrder[h.hclen-1]] == 0 {
		h.hclen--
	}

	h.bits = 5 + 5 + 4 + 3*h.hclen
	for _, s := range h.syms {
		h.bits += int(h.clLens[s]) + int(clExtraBits[s])
	}
}

func (h *dynamicHeader) add(sym, extra uint8) {
	h.syms = append(h.syms, sym)
	h.extras = append(h.extras, extra)
}

func (h *dynamicHeader) write(w *bitstream.Writer) {
	w.PutBits(uint32(h.hlit-257), 5)
	w.PutBits(uint32(h.hdist-1), 5)
	w.PutBits(uint32(h.hclen-4), 4)
	for _, sym := range codeLengthOrder[:h.hclen] {
		w.PutBits(uint32(h.clLens[sym]), 3)
	}
	for i, s := range h.syms {
		c := h.clCodes[s]
		w.PutBits(uint32(c.Bits), uint(c.Len))
		if n := clExtraBits[s]; n > 0 {
			w.PutBits(uint32(h.extras[i]), uint(n))
		}
	}
}
