package qpl

import (
	"github.com/andybalholm/qpl/analytics"
	"github.com/andybalholm/qpl/flate"
)

type decompressor struct {
	dec  *flate.Decoder
	sums analytics.Checksummer
	done bool
}

func (d *decompressor) finished() bool {
	return d.done
}

func (d *decompressor) execute(j *Job) error {
	d.dec.IgnoreEndBits = j.IgnoreEndBits
	n, consumed, err := d.dec.Decode(j.NextOut, j.NextIn, j.Flags&Last != 0)
	d.sums.Write(j.NextOut[:n])
	j.NextIn = j.NextIn[consumed:]
	j.NextOut = j.NextOut[n:]
	j.Result.Checksums.CRC32 = d.sums.CRC32()
	j.Result.Checksums.XOR = d.sums.XOR()
	if err == nil {
		d.done = true
	}
	return err
}

// inflateBufferSize is the amount of decompressed data a filter holds
// between the decoder and the analytics stage.
const inflateBufferSize = 1 << 16

// A filter runs an analytics operation, reading its elements either straight
// from NextIn or, with DecompressEnable, from a DEFLATE stream decompressed a
// buffer at a time.
type filter struct {
	proc *analytics.Processor
	done bool

	dec      *flate.Decoder
	decDone  bool
	mid      []byte
	pos, end int // undelivered part of mid
}

func newFilter(j *Job) (*filter, error) {
	proc, err := analytics.NewProcessor(analytics.Config{
		Op:              analyticsOp(j.Op),
		Format:          j.InputFormat,
		InputWidth:      j.InputBitWidth,
		OutputWidth:     j.OutputWidth,
		NumElements:     j.NumInputElements,
		OutputBigEndian: j.Flags&OutBigEndian != 0,
		ChecksumOutput:  j.Flags&ChecksumOutput != 0,
	})
	if err != nil {
		return nil, err
	}
	f := &filter{proc: proc}
	if j.Flags&DecompressEnable != 0 {
		f.dec = j.newDecoder()
		f.mid = make([]byte, inflateBufferSize)
	}
	return f, nil
}

func (f *filter) finished() bool {
	return f.done
}

func (f *filter) execute(j *Job) error {
	var err error
	if f.dec == nil {
		var n, consumed int
		n, consumed, err = f.proc.Process(j.NextOut, j.NextIn, j.Flags&Last != 0)
		j.NextIn = j.NextIn[consumed:]
		j.NextOut = j.NextOut[n:]
	} else {
		err = f.inflate(j)
	}
	if err == nil {
		f.done = true
	}
	j.Result.Aggregates = f.proc.Aggregates()
	j.Result.Checksums = f.proc.Checksums()
	j.Result.LastBitOffset = f.proc.LastBitOffset()
	return err
}

// inflate alternates between decompressing into mid and running the
// analytics stage over what was decompressed.
func (f *filter) inflate(j *Job) error {
	last := j.Flags&Last != 0
	for {
		if f.pos < f.end || f.decDone {
			n, consumed, err := f.proc.Process(j.NextOut, f.mid[f.pos:f.end], f.decDone)
			j.NextOut = j.NextOut[n:]
			f.pos += consumed
			if err != analytics.ErrMoreInput {
				return err
			}
		}

		// The analytics stage has taken everything in mid.
		f.pos, f.end = 0, 0
		f.dec.IgnoreEndBits = j.IgnoreEndBits
		n, consumed, err := f.dec.Decode(f.mid, j.NextIn, last)
		j.NextIn = j.NextIn[consumed:]
		f.end = n
		switch err {
		case nil:
			f.decDone = true
		case flate.ErrMoreOutput:
		case flate.ErrMoreInput:
			if n == 0 {
				return err
			}
		default:
			return err
		}
	}
}
