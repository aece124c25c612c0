package flate

import (
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"

	"github.com/andybalholm/qpl/bitstream"
	"github.com/andybalholm/qpl/huffman"
)

var (
	ErrMoreOutput  = errors.New("flate: output buffer is full")
	ErrMoreInput   = errors.New("flate: more input needed")
	ErrCorrupt     = errors.New("flate: corrupt stream")
	ErrTruncated   = errors.New("flate: stream ends early")
	ErrChecksum    = errors.New("flate: checksum mismatch")
	ErrMissingCode = errors.New("flate: symbol has no code in the table")
)

// internal suspension signals, turned into ErrMoreInput/ErrMoreOutput by
// Decode once it has settled its input
var (
	errNeedInput  = errors.New("need input")
	errNeedOutput = errors.New("need output")
)

type phase uint8

const (
	phaseWrapHeader phase = iota
	phaseBlockHeader
	phaseStored
	phaseHuffman
	phaseTrailer
	phaseDone
)

const histMax = 4 * maxDistance

// A Decoder decompresses a DEFLATE stream that arrives in pieces, into output
// buffers that may be smaller than the data. It can stop anywhere, mid-byte
// or mid-match, and carry on when called again with more input or more
// room.
type Decoder struct {
	Format Format

	// NoHeaders marks a stream that is the body of a single block with no
	// block header. It is coded with Table if one is set and with the fixed
	// code otherwise.
	NoHeaders bool

	// Table selects canned mode, which implies NoHeaders.
	Table *huffman.Table

	// Literals marks a canned stream of literals with no end-of-block code.
	// It ends with the input, and trailing bits too few to hold a code are
	// taken as padding.
	Literals bool

	// IgnoreStartBits is the number of bits to skip at the start of the
	// stream; IgnoreEndBits the number to ignore at the end of the final
	// piece of input.
	IgnoreStartBits int
	IgnoreEndBits   int

	r       bitstream.Reader
	carry   bitstream.Carry
	started bool
	phase   phase
	final   bool
	stored  int

	lit, dist *huffman.Decoder
	lens      [huffman.NumLitLen + huffman.NumDist]uint8

	copyLen, copyDist int
	hist              []byte

	crc    uint32
	size   uint32
	adler  hash.Hash32
	summed int
}

// Reset prepares d to decode a new stream. The configuration fields are kept.
func (d *Decoder) Reset() {
	d.carry.Reset()
	d.started = false
	d.phase = phaseWrapHeader
	d.final = false
	d.stored = 0
	d.lit, d.dist = nil, nil
	d.copyLen, d.copyDist = 0, 0
	d.hist = d.hist[:0]
	d.crc, d.size = 0, 0
	if d.adler != nil {
		d.adler.Reset()
	}
}

// Done reports whether the end of the stream has been reached.
func (d *Decoder) Done() bool {
	return d.phase == phaseDone
}

func (d *Decoder) headerless() bool {
	return d.NoHeaders || d.Table != nil
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Decode decompresses from src into dst. It returns the number of bytes
// written and the number of bytes of src consumed.
//
// When dst fills up, Decode returns ErrMoreOutput and consumed counts only the
// bytes it is finished with; the caller passes the rest again. When src runs
// out and last is false, Decode consumes all of src, keeping what it could
// not use yet, and returns ErrMoreInput. When last is set and the stream is
// incomplete, it returns ErrTruncated. At the end of the stream it returns
// nil; bytes after the stream are not consumed.
func (d *Decoder) Decode(dst, src []byte, last bool) (n, consumed int, err error) {
	if d.phase == phaseDone && d.started {
		return 0, 0, nil
	}
	ignoreEnd := 0
	if last {
		ignoreEnd = d.IgnoreEndBits
	}
	if err := d.carry.Attach(&d.r, bitstream.LSBFirst, src, ignoreEnd); err != nil {
		return 0, 0, err
	}
	d.summed = 0

	err = d.run(dst, &n)
	d.sum(dst[:n])

	switch err {
	case nil:
		d.r.AlignToByte()
		consumed = d.carry.Settle(&d.r, src, false)
		d.carry.Reset()
	case errNeedOutput:
		consumed = d.carry.Settle(&d.r, src, false)
		err = ErrMoreOutput
	case errNeedInput:
		switch {
		case !last:
			consumed = d.carry.Settle(&d.r, src, true)
			err = ErrMoreInput
		case d.phase == phaseHuffman && d.Literals && d.headerless() && d.copyLen == 0:
			d.phase = phaseDone
			d.carry.Reset()
			consumed = len(src)
			err = nil
		default:
			consumed = len(src)
			err = ErrTruncated
		}
	default:
		consumed = d.carry.Settle(&d.r, src, false)
	}
	return n, consumed, err
}

func (d *Decoder) start() error {
	if err := d.r.Skip(d.IgnoreStartBits); err != nil {
		return errNeedInput
	}
	d.started = true
	if d.hist == nil {
		d.hist = make([]byte, 0, histMax)
	}
	if d.Format == Zlib && d.adler == nil {
		d.adler = adler32.New()
	}
	if d.Format != Raw {
		d.phase = phaseWrapHeader
		return nil
	}
	return d.startBlocks()
}

func (d *Decoder) startBlocks() error {
	if !d.headerless() {
		d.phase = phaseBlockHeader
		return nil
	}
	d.lit, d.dist = fixedLitDecoder, fixedDistDecoder
	if d.Table != nil {
		d.lit, d.dist = d.Table.LitLenDecoder(), d.Table.DistDecoder()
		if !d.Table.Ready() || d.lit == nil {
			return huffman.ErrTableKind
		}
	}
	d.phase = phaseHuffman
	return nil
}

func (d *Decoder) run(dst []byte, n *int) error {
	if !d.started {
		if err := d.start(); err != nil {
			return err
		}
	}
	for {
		var err error
		switch d.phase {
		case phaseWrapHeader:
			err = d.transaction(d.readWrapHeader)
		case phaseBlockHeader:
			if d.final {
				d.phase = phaseDone
				if d.Format != Raw {
					d.phase = phaseTrailer
				}
				continue
			}
			err = d.transaction(d.readBlockHeader)
		case phaseStored:
			err = d.copyStored(dst, n)
		case phaseHuffman:
			err = d.decodeSymbols(dst, n)
		case phaseTrailer:
			d.sum(dst[:*n])
			err = d.transaction(d.readTrailer)
		case phaseDone:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// transaction runs f, rewinding the reader if f runs out of input.
func (d *Decoder) transaction(f func() error) error {
	m := d.r.Mark()
	err := f()
	if err == bitstream.ErrInsufficientInput {
		d.r.Restore(m)
		return errNeedInput
	}
	return err
}

func (d *Decoder) sum(out []byte) {
	if d.Format == Raw || d.summed >= len(out) {
		return
	}
	p := out[d.summed:]
	switch d.Format {
	case Gzip:
		d.crc = crc32.Update(d.crc, crc32.IEEETable, p)
		d.size += uint32(len(p))
	case Zlib:
		d.adler.Write(p)
	}
	d.summed = len(out)
}

func (d *Decoder) readByte() (byte, error) {
	v, err := d.r.ReadBits(8)
	return byte(v), err
}

func (d *Decoder) readWrapHeader() error {
	if d.Format == Zlib {
		v, err := d.r.ReadBits(16)
		if err != nil {
			return err
		}
		cmf, flg := v&0xff, v>>8
		if cmf&0x0f != 8 || cmf>>4 > 7 || (cmf<<8|flg)%31 != 0 {
			return corrupt("bad zlib header")
		}
		if flg&0x20 != 0 {
			return corrupt("zlib preset dictionaries are not supported")
		}
		return d.startBlocks()
	}

	var h [10]byte
	for i := range h {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		h[i] = b
	}
	if h[0] != 0x1f || h[1] != 0x8b || h[2] != 8 {
		return corrupt("bad gzip header")
	}
	flg := h[3]
	if flg&gzipReserved != 0 {
		return corrupt("reserved gzip flags set")
	}
	if flg&gzipExtra != 0 {
		xlen, err := d.r.ReadBits(16)
		if err != nil {
			return err
		}
		if err := d.r.Skip(8 * int(xlen)); err != nil {
			return err
		}
	}
	for _, f := range []byte{gzipName, gzipComment} {
		if flg&f == 0 {
			continue
		}
		for {
			b, err := d.readByte()
			if err != nil {
				return err
			}
			if b == 0 {
				break
			}
		}
	}
	if flg&gzipHeaderCRC != 0 {
		if _, err := d.r.ReadBits(16); err != nil {
			return err
		}
	}
	return d.startBlocks()
}

func (d *Decoder) readTrailer() error {
	d.r.AlignToByte()
	if d.Format == Zlib {
		var sum uint32
		for i := 0; i < 4; i++ {
			b, err := d.readByte()
			if err != nil {
				return err
			}
			sum = sum<<8 | uint32(b)
		}
		if sum != d.adler.Sum32() {
			return ErrChecksum
		}
		d.phase = phaseDone
		return nil
	}
	crc, err := d.r.ReadBits(32)
	if err != nil {
		return err
	}
	size, err := d.r.ReadBits(32)
	if err != nil {
		return err
	}
	if crc != d.crc || size != d.size {
		return ErrChecksum
	}
	d.phase = phaseDone
	return nil
}

func (d *Decoder) readBlockHeader() error {
	h, err := d.r.ReadBits(3)
	if err != nil {
		return err
	}
	final := h&1 == 1
	switch h >> 1 {
	case 0:
		d.r.AlignToByte()
		v, err := d.r.ReadBits(32)
		if err != nil {
			return err
		}
		length := v & 0xffff
		if v>>16 != ^length&0xffff {
			return corrupt("stored block length check failed")
		}
		d.stored = int(length)
		d.phase = phaseStored
	case 1:
		d.lit, d.dist = fixedLitDecoder, fixedDistDecoder
		d.phase = phaseHuffman
	case 2:
		if err := d.readDynamicHeader(); err != nil {
			return err
		}
		d.phase = phaseHuffman
	default:
		return corrupt("reserved block type")
	}
	d.final = final
	return nil
}

func (d *Decoder) readDynamicHeader() error {
	v, err := d.r.ReadBits(14)
	if err != nil {
		return err
	}
	hlit := int(v&31) + 257
	hdist := int(v>>5&31) + 1
	hclen := int(v>>10) + 4
	if hlit > huffman.NumLitLen || hdist > huffman.NumDist {
		return corrupt("too many codes in dynamic block header")
	}

	var clLens [19]uint8
	for _, sym := range codeLengthOrder[:hclen] {
		v, err := d.r.ReadBits(3)
		if err != nil {
			return err
		}
		clLens[sym] = uint8(v)
	}
	cl, err := huffman.NewDecoder(clLens[:])
	if err != nil {
		return corrupt("code-length code: %v", err)
	}

	lens := d.lens[:hlit+hdist]
	for i := 0; i < len(lens); {
		sym, err := cl.Decode(&d.r)
		if err != nil {
			if err == bitstream.ErrInsufficientInput {
				return err
			}
			return corrupt("code lengths: %v", err)
		}
		if sym < 16 {
			lens[i] = uint8(sym)
			i++
			continue
		}
		var rep uint32
		var v uint8
		switch sym {
		case 16:
			if i == 0 {
				return corrupt("repeat with no previous length")
			}
			v = lens[i-1]
			rep, err = d.r.ReadBits(2)
			rep += 3
		case 17:
			rep, err = d.r.ReadBits(3)
			rep += 3
		default:
			rep, err = d.r.ReadBits(7)
			rep += 11
		}
		if err != nil {
			return err
		}
		if i+int(rep) > len(lens) {
			return corrupt("code lengths overflow")
		}
		for ; rep > 0; rep-- {
			lens[i] = v
			i++
		}
	}
	if lens[huffman.EndOfBlock] == 0 {
		return corrupt("no end-of-block code")
	}

	lit, err := huffman.NewDecoder(lens[:hlit])
	if err != nil {
		return corrupt("literal/length code: %v", err)
	}
	dist, err := huffman.NewDecoder(lens[hlit:])
	if err != nil {
		return corrupt("distance code: %v", err)
	}
	d.lit, d.dist = lit, dist
	return nil
}

func (d *Decoder) put(dst []byte, n *int, b byte) {
	dst[*n] = b
	*n++
	if len(d.hist) == histMax {
		copy(d.hist, d.hist[histMax-maxDistance:])
		d.hist = d.hist[:maxDistance]
	}
	d.hist = append(d.hist, b)
}

func (d *Decoder) copyStored(dst []byte, n *int) error {
	for d.stored > 0 {
		if *n == len(dst) {
			return errNeedOutput
		}
		v, err := d.r.ReadBits(8)
		if err != nil {
			return errNeedInput
		}
		d.put(dst, n, byte(v))
		d.stored--
	}
	d.phase = phaseBlockHeader
	return nil
}

func symbolError(err error) error {
	if err == bitstream.ErrInsufficientInput {
		return errNeedInput
	}
	return corrupt("%v", err)
}

func (d *Decoder) decodeSymbols(dst []byte, n *int) error {
	for {
		for d.copyLen > 0 {
			if *n == len(dst) {
				return errNeedOutput
			}
			d.put(dst, n, d.hist[len(d.hist)-d.copyDist])
			d.copyLen--
		}

		m := d.r.Mark()
		sym, err := d.lit.Decode(&d.r)
		if err != nil {
			return symbolError(err)
		}
		switch {
		case sym < huffman.EndOfBlock:
			if *n == len(dst) {
				d.r.Restore(m)
				return errNeedOutput
			}
			d.put(dst, n, byte(sym))
			continue
		case sym == huffman.EndOfBlock:
			if d.headerless() {
				d.final = true
			}
			d.phase = phaseBlockHeader
			return nil
		}

		idx := sym - 257
		if idx >= len(lengthBase) {
			return corrupt("invalid length symbol %d", sym)
		}
		extra, err := d.r.ReadBits(uint(lengthExtra[idx]))
		if err != nil {
			d.r.Restore(m)
			return errNeedInput
		}
		length := int(lengthBase[idx]) + int(extra)

		dsym, err := d.dist.Decode(&d.r)
		if err != nil {
			if err == bitstream.ErrInsufficientInput {
				d.r.Restore(m)
			}
			return symbolError(err)
		}
		if dsym >= len(distBase) {
			return corrupt("invalid distance symbol %d", dsym)
		}
		extra, err = d.r.ReadBits(uint(distExtra[dsym]))
		if err != nil {
			d.r.Restore(m)
			return errNeedInput
		}
		dist := int(distBase[dsym]) + int(extra)
		if dist > len(d.hist) {
			return corrupt("distance %d reaches before the start of the output", dist)
		}
		d.copyLen, d.copyDist = length, dist
	}
}
