package qpl

import (
	"bytes"

	"github.com/andybalholm/qpl/analytics"
	"github.com/andybalholm/qpl/flate"
)

const verifyBufferSize = 1 << 16

// A compressor runs a flate.Writer over the chunks of a stream. Encoded
// bytes the caller has no room for yet are staged until the next call.
type compressor struct {
	w           *flate.Writer
	enc         *flate.Encoder
	noBuffering bool
	closed      bool

	staged    []byte // encoded, not yet delivered past sent
	sent      int
	unchecked []byte // encoded, not yet verified

	// verifier decodes the output as it is produced and compares it with
	// pending, the input it has not matched yet. It is nil with OmitVerify.
	verifier *flate.Decoder
	pending  []byte
	vbuf     []byte

	sums analytics.Checksummer
}

func newCompressor(j *Job, op Compress) *compressor {
	level := op.Level
	if level == 0 {
		level = DefaultLevel
	}
	canned := j.Flags&CannedMode != 0
	literals := j.Flags&Literals != 0

	c := &compressor{
		enc:         flate.NewEncoder(),
		noBuffering: j.Flags&NoBuffering != 0,
	}
	var be flate.BlockEncoder = c.enc
	switch {
	case canned:
		c.enc.Table = j.HuffmanTable
		c.enc.Literals = literals
	case j.Flags&GzipMode != 0:
		be = flate.NewGzipEncoder(c.enc)
	case j.Flags&ZlibMode != 0:
		be = flate.NewZlibEncoder(c.enc, level)
	}
	c.w = &flate.Writer{Dest: c, Encoder: be}
	if !literals {
		c.w.MatchFinder = flate.NewMatchFinder(level)
	}

	if j.Flags&OmitVerify == 0 {
		c.verifier = j.newDecoder()
		c.verifier.IgnoreStartBits = 0
		c.vbuf = make([]byte, verifyBufferSize)
	}
	return c
}

// Write receives the encoded stream from c.w.
func (c *compressor) Write(p []byte) (int, error) {
	c.staged = append(c.staged, p...)
	if c.verifier != nil {
		c.unchecked = append(c.unchecked, p...)
	}
	return len(p), nil
}

func (c *compressor) finished() bool {
	return c.closed && c.sent == len(c.staged)
}

func (c *compressor) execute(j *Job) error {
	in := j.NextIn
	if c.closed && len(in) > 0 {
		return InvalidParameter
	}
	if !c.closed {
		c.sums.Write(in)
		if c.verifier != nil {
			c.pending = append(c.pending, in...)
		}
		if _, err := c.w.Write(in); err != nil {
			return err
		}
		j.NextIn = in[len(in):]

		last := j.Flags&Last != 0
		switch {
		case last:
			c.closed = true
			if err := c.w.Close(); err != nil {
				return err
			}
		case c.noBuffering:
			if err := c.w.Flush(); err != nil {
				return err
			}
		}
		if err := c.verify(last); err != nil {
			return err
		}
	}
	j.Result.Checksums.CRC32 = c.sums.CRC32()
	j.Result.Checksums.XOR = c.sums.XOR()

	n := copy(j.NextOut, c.staged[c.sent:])
	j.NextOut = j.NextOut[n:]
	c.sent += n
	if c.sent < len(c.staged) {
		return MoreOutputNeeded
	}
	c.staged, c.sent = c.staged[:0], 0
	if c.closed {
		j.Result.LastBitOffset = c.enc.LastBitOffset()
	}
	return nil
}

// verify decodes the output produced since the last call and checks it
// against the input. Output is only checked as the final piece of a stream
// when the stream is complete, since the padding bits of a literal canned
// stream would otherwise be read as symbols.
func (c *compressor) verify(last bool) error {
	d := c.verifier
	if d == nil {
		return nil
	}
	if last && d.Table != nil && d.Literals {
		d.IgnoreEndBits = (8 - c.enc.LastBitOffset()) % 8
	}
	src := c.unchecked
	c.unchecked = c.unchecked[:0]
	for {
		n, used, err := d.Decode(c.vbuf, src, last)
		src = src[used:]
		if n > len(c.pending) || !bytes.Equal(c.vbuf[:n], c.pending[:n]) {
			return VerificationMismatch
		}
		c.pending = append(c.pending[:0], c.pending[n:]...)

		switch err {
		case flate.ErrMoreOutput:
			continue
		case flate.ErrMoreInput:
			return nil
		case nil:
			if !last || len(c.pending) > 0 {
				return VerificationMismatch
			}
			return nil
		}
		return VerificationMismatch
	}
}
