package analytics

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/andybalholm/qpl/bitstream"
)

// Config describes what a Processor does.
type Config struct {
	Op     Op
	Format Format

	// InputWidth is the element width in bits, 1 to 32. PRLE streams carry
	// their own width, and InputWidth is ignored.
	InputWidth int

	OutputWidth OutputWidth

	// NumElements is the number of elements to process. For Expand it is the
	// number of output elements, one per mask bit.
	NumElements int

	// OutputBigEndian packs the output MSB-first.
	OutputBigEndian bool

	// ChecksumOutput computes Checksums.OutputCRC32.
	ChecksumOutput bool
}

func (c *Config) validate() error {
	if c.Format < LittleEndian || c.Format > PRLE {
		return fmt.Errorf("%w: format %v", ErrInvalidParameter, c.Format)
	}
	if c.Format != PRLE && (c.InputWidth < 1 || c.InputWidth > 32) {
		return fmt.Errorf("%w: input width %d", ErrInvalidWidth, c.InputWidth)
	}
	switch c.OutputWidth {
	case SameAsInput, Width8, Width16, Width32:
	default:
		return fmt.Errorf("%w: output width %d", ErrInvalidWidth, c.OutputWidth)
	}
	if c.NumElements < 0 {
		return fmt.Errorf("%w: %d elements", ErrInvalidParameter, c.NumElements)
	}
	switch op := c.Op.(type) {
	case Scan:
		if op.Cmp < Equal || op.Cmp > NotRange {
			return fmt.Errorf("%w: comparison %v", ErrInvalidParameter, op.Cmp)
		}
	case Extract:
	case Select:
		if len(op.Mask)*8 < c.NumElements {
			return fmt.Errorf("%w: select mask has %d bits for %d elements", ErrInvalidParameter, len(op.Mask)*8, c.NumElements)
		}
	case Expand:
		if len(op.Mask)*8 < c.NumElements {
			return fmt.Errorf("%w: expand mask has %d bits for %d elements", ErrInvalidParameter, len(op.Mask)*8, c.NumElements)
		}
	default:
		return fmt.Errorf("%w: no operation", ErrInvalidParameter)
	}
	return nil
}

// internal suspension signals
var (
	errNeedInput  = errors.New("need input")
	errNeedOutput = errors.New("need output")
)

// A Processor runs one operation over an element stream that may arrive in
// several pieces.
type Processor struct {
	cfg Config

	r     bitstream.Reader
	carry bitstream.Carry
	w     bitstream.Writer
	dec   elementDecoder

	index    int // elements (or, for Expand, output positions) done
	agg      Aggregates
	sums     Checksummer
	outCRC   uint32
	lastBits int
	flushed  bool
	done     bool
}

// NewProcessor returns a Processor for cfg.
func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Processor{cfg: cfg}
	p.Reset()
	return p, nil
}

// Reset prepares p to process a new stream with the same configuration.
func (p *Processor) Reset() {
	p.carry.Reset()
	order := bitstream.LSBFirst
	if p.cfg.OutputBigEndian {
		order = bitstream.MSBFirst
	}
	p.w.SetOrder(order)
	p.w.Reset()
	p.dec = elementDecoder{format: p.cfg.Format, width: uint(p.cfg.InputWidth)}
	p.index = 0
	p.agg = NewAggregates()
	p.sums.Reset()
	p.outCRC = 0
	p.lastBits = 0
	p.flushed = false
	p.done = false
}

func (p *Processor) inputOrder() bitstream.Order {
	if p.cfg.Format == BigEndian {
		return bitstream.MSBFirst
	}
	return bitstream.LSBFirst
}

// Done reports whether every element has been processed and the output
// flushed.
func (p *Processor) Done() bool {
	return p.done
}

func (p *Processor) Aggregates() Aggregates {
	return p.agg
}

func (p *Processor) Checksums() Checksums {
	return Checksums{
		CRC32:       p.sums.CRC32(),
		XOR:         p.sums.XOR(),
		OutputCRC32: p.outCRC,
	}
}

// LastBitOffset returns the number of meaningful bits in the last output
// byte, or 0 if the output ended on a byte boundary.
func (p *Processor) LastBitOffset() int {
	return p.lastBits
}

// Process decodes elements from src and writes results to dst. It returns the
// number of bytes written and consumed.
//
// When dst fills up, Process stops at an element boundary and returns
// ErrMoreOutput; consumed counts only the bytes it is finished with. If a
// non-empty dst is too small for even the next element, Process returns
// ErrOutputTooSmall instead, leaving p ready for a call with a larger dst. When src
// runs out and last is false, it consumes all of src, keeping what it could
// not use yet, and returns ErrMoreInput. When last is set and src ends before
// the last element, it returns ErrTruncated. Output bits that do not fill a
// byte are held until the next call, or flushed once every element is done.
func (p *Processor) Process(dst, src []byte, last bool) (written, consumed int, err error) {
	if p.done {
		return 0, 0, nil
	}
	if err := p.carry.Attach(&p.r, p.inputOrder(), src, 0); err != nil {
		return 0, 0, err
	}
	p.w.SetOutput(dst)

	start := p.index
	err = p.run()
	written = p.w.Len()

	switch err {
	case nil:
		p.r.AlignToByte()
		consumed = p.carry.Settle(&p.r, src, false)
		p.carry.Reset()
	case errNeedOutput:
		consumed = p.carry.Settle(&p.r, src, false)
		err = ErrMoreOutput
		if p.index == start && written == 0 && len(dst) > 0 {
			err = ErrOutputTooSmall
		}
	case errNeedInput:
		if last {
			consumed = len(src)
			err = ErrTruncated
		} else {
			consumed = p.carry.Settle(&p.r, src, true)
			err = ErrMoreInput
		}
	default:
		consumed = p.carry.Settle(&p.r, src, false)
	}

	p.sums.Write(src[:consumed])
	if p.cfg.ChecksumOutput {
		p.outCRC = crc32.Update(p.outCRC, crc32.IEEETable, dst[:written])
	}
	return written, consumed, err
}

func (p *Processor) run() error {
	for p.index < p.cfg.NumElements {
		rm := p.r.Mark()
		wm := p.w.Mark()
		dec := p.dec
		agg := p.agg

		err := p.step()
		if err != nil {
			p.r.Restore(rm)
			p.w.Restore(wm)
			p.dec = dec
			p.agg = agg
			switch err {
			case bitstream.ErrInsufficientInput:
				return errNeedInput
			case bitstream.ErrInsufficientOutput:
				return errNeedOutput
			}
			return err
		}
		p.index++
	}
	if !p.flushed {
		pending := p.w.Pending()
		if _, err := p.w.Flush(); err != nil {
			return errNeedOutput
		}
		p.lastBits = pending
		p.flushed = true
	}
	p.done = true
	return nil
}

// outWidth returns the width of output values.
func (p *Processor) outWidth() uint {
	if p.cfg.OutputWidth == SameAsInput {
		return p.dec.width
	}
	return uint(p.cfg.OutputWidth)
}

func (p *Processor) writeValue(v uint32, width uint) error {
	if !fits(v, width) {
		return fmt.Errorf("%w: %d in %d bits", ErrOutputWidthOverflow, v, width)
	}
	return p.w.WriteBits(v, width)
}

// step processes one element. It may leave partial changes behind when it
// fails; run rolls them back.
func (p *Processor) step() error {
	switch op := p.cfg.Op.(type) {
	case Scan:
		v, err := p.dec.next(&p.r)
		if err != nil {
			return err
		}
		match := op.Cmp.match(v, op.Low, op.High)
		if p.cfg.OutputWidth == SameAsInput {
			var bit uint32
			if match {
				bit = 1
			}
			err = p.w.WriteBits(bit, 1)
		} else if match {
			err = p.writeValue(uint32(p.index), uint(p.cfg.OutputWidth))
		}
		if err != nil {
			return err
		}
		p.agg.add(v)
		if match {
			p.agg.match(p.index)
		}

	case Extract:
		v, err := p.dec.next(&p.r)
		if err != nil {
			return err
		}
		if i := uint32(p.index); op.Low <= i && i <= op.High {
			if err := p.writeValue(v, p.outWidth()); err != nil {
				return err
			}
		}
		p.agg.add(v)

	case Select:
		v, err := p.dec.next(&p.r)
		if err != nil {
			return err
		}
		if maskBit(op.Mask, p.index) {
			if err := p.writeValue(v, p.outWidth()); err != nil {
				return err
			}
		}
		p.agg.add(v)

	case Expand:
		if err := p.dec.start(&p.r); err != nil {
			return err
		}
		if !maskBit(op.Mask, p.index) {
			return p.w.WriteBits(0, p.outWidth())
		}
		v, err := p.dec.next(&p.r)
		if err != nil {
			return err
		}
		if err := p.writeValue(v, p.outWidth()); err != nil {
			return err
		}
		p.agg.add(v)
	}
	return nil
}
