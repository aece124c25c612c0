package qpl

import (
	"github.com/andybalholm/qpl/analytics"
	"github.com/andybalholm/qpl/flate"
	"github.com/andybalholm/qpl/huffman"
)

// Flags control how a Job treats its stream.
type Flags uint32

const (
	// First marks the first call of a stream. It discards any state left
	// from an earlier stream and resets the totals and results.
	First Flags = 1 << iota

	// Last marks the call that holds the end of the input.
	Last

	// CannedMode compresses or decompresses with HuffmanTable, with no
	// block headers in the stream.
	CannedMode

	// NoBuffering makes Compress encode each call's input as soon as it
	// arrives instead of collecting full blocks. Output then depends on how
	// the input was split.
	NoBuffering

	// RandomAccess marks input that is a piece cut out of a larger raw
	// DEFLATE stream, possibly starting and ending mid-byte (see
	// IgnoreStartBits and IgnoreEndBits). It cannot be combined with
	// GzipMode or ZlibMode.
	RandomAccess

	// OmitVerify skips the check that Compress's output decodes back to its
	// input.
	OmitVerify

	// NoHeaders marks a stream that is the body of a single block with no
	// block header. It is coded with HuffmanTable if one is set, and with
	// the fixed code otherwise.
	NoHeaders

	// Literals selects Huffman-only coding: every byte is a literal. A
	// canned literal stream has no end-of-block code.
	Literals

	GzipMode
	ZlibMode

	// DecompressEnable makes an analytics operation read a DEFLATE stream,
	// filtering the elements as they are decompressed.
	DecompressEnable

	// OutBigEndian packs analytics output MSB-first.
	OutBigEndian

	// ChecksumOutput adds a CRC-32 of the analytics output to the results.
	ChecksumOutput
)

// ChunkState says where a call falls in its stream.
type ChunkState int

const (
	Standalone ChunkState = iota // First and Last
	ChunkStart
	ChunkMiddle
	ChunkEnd
)

func (f Flags) ChunkState() ChunkState {
	switch f & (First | Last) {
	case First | Last:
		return Standalone
	case First:
		return ChunkStart
	case Last:
		return ChunkEnd
	}
	return ChunkMiddle
}

type (
	Aggregates = analytics.Aggregates
	Checksums  = analytics.Checksums
)

// Result holds the outcome of the latest call.
type Result struct {
	Status Status

	// OutputBytes is the number of bytes the call wrote.
	OutputBytes int

	// LastBitOffset is the number of meaningful bits in the final byte of
	// the output once the stream is complete, or 0 if it ends on a byte
	// boundary. It is set by Compress and the analytics operations.
	LastBitOffset int

	// Aggregates summarize the elements an analytics operation has decoded
	// so far.
	Aggregates Aggregates

	// Checksums cover the data seen so far: the uncompressed data for
	// Compress and Decompress, and the element stream for analytics
	// operations.
	Checksums Checksums
}

// A Job holds one stream's worth of work and everything needed to carry it
// across calls to Execute.
//
// A Job is not safe for concurrent use. Many jobs may share one HuffmanTable.
type Job struct {
	Op Operation

	// NextIn and NextOut are the caller's buffers. Execute consumes a prefix
	// of NextIn and writes a prefix of NextOut, and moves both slices past
	// what it used. The Job does not keep them after Execute returns.
	NextIn  []byte
	NextOut []byte

	// TotalIn and TotalOut count the bytes consumed and written since the
	// First call.
	TotalIn  uint32
	TotalOut uint32

	Flags Flags

	// HuffmanTable is the code for CannedMode. The Job only reads it.
	HuffmanTable *huffman.Table

	// Element stream settings for the analytics operations.
	InputFormat      analytics.Format
	InputBitWidth    int
	OutputWidth      analytics.OutputWidth
	NumInputElements int

	// IgnoreStartBits is the number of bits to skip at the start of a
	// compressed stream; IgnoreEndBits the number of bits at the end of the
	// Last chunk that are not part of it. Both are 0 to 7.
	IgnoreStartBits int
	IgnoreEndBits   int

	Result Result

	path  Path
	accel Accelerator
	ready bool
	eng   engine
}

// An engine carries one stream from call to call.
type engine interface {
	execute(j *Job) error

	// finished reports whether the stream is complete.
	finished() bool
}

// NewJob returns a Job initialized for the given path.
func NewJob(p Path) (*Job, error) {
	j := new(Job)
	if err := j.Init(p); err != nil {
		return nil, err
	}
	return j, nil
}

// Init clears j and binds it to an execution path. Hardware fails with
// PathUnavailable unless an Accelerator is registered; Auto uses one if
// there is one and software otherwise.
func (j *Job) Init(p Path) error {
	if err := checkPath(p); err != nil {
		return err
	}
	*j = Job{path: p, ready: true}
	if p != Software {
		j.accel = registeredAccelerator()
	}
	j.Result.Aggregates = analytics.NewAggregates()
	return nil
}

// Finalize releases j's internal state. j must be initialized again before
// it is reused.
func (j *Job) Finalize() error {
	j.eng = nil
	j.accel = nil
	j.ready = false
	return nil
}

// Path returns the path j was initialized with.
func (j *Job) Path() Path {
	return j.path
}

// Execute runs j's operation over NextIn and NextOut. It returns nil or a
// Status, which is also stored in j.Result.Status.
//
// MoreOutputNeeded and MoreInputNeeded leave the stream ready to carry on:
// the caller supplies a new output buffer or the next chunk of input and
// calls Execute again without the First flag. InsufficientOutputSpace
// also leaves it ready, for a retry with a larger NextOut. Data errors,
// such as a corrupt stream or a value too wide for the output, end the
// stream, and j must be initialized again before it is reused.
func (j *Job) Execute() error {
	s := j.execute()
	j.Result.Status = s
	if s == OK {
		return nil
	}
	return s
}

func (j *Job) execute() Status {
	if !j.ready {
		return NotInitialized
	}
	if j.accel != nil && j.accel.Supports(j) {
		return statusOf(j.accel.Execute(j))
	}
	if j.path == Hardware {
		return PathUnavailable
	}
	if s := j.check(); s != OK {
		return s
	}

	if j.Flags&First != 0 {
		eng, err := j.newEngine()
		if err != nil {
			return statusOf(err)
		}
		j.eng = eng
		j.TotalIn, j.TotalOut = 0, 0
		j.Result = Result{Aggregates: analytics.NewAggregates()}
	} else if j.eng == nil {
		// no stream in progress
		return InvalidFlags
	}
	if j.eng.finished() {
		j.Result.OutputBytes = 0
		return OK
	}

	inLen, outLen := len(j.NextIn), len(j.NextOut)
	err := j.eng.execute(j)
	written := outLen - len(j.NextOut)
	j.TotalIn += uint32(inLen - len(j.NextIn))
	j.TotalOut += uint32(written)
	j.Result.OutputBytes = written

	s := statusOf(err)
	if !s.Resumable() {
		j.eng = nil
		j.ready = false
	}
	return s
}

// check rejects flag and parameter combinations that make no sense.
func (j *Job) check() Status {
	f := j.Flags
	if f&GzipMode != 0 && f&ZlibMode != 0 {
		return InvalidFlags
	}
	wrapped := f&(GzipMode|ZlibMode) != 0
	if wrapped && f&(CannedMode|RandomAccess|NoHeaders) != 0 {
		return InvalidFlags
	}
	if f&CannedMode != 0 && j.HuffmanTable == nil {
		return InvalidHuffmanTable
	}
	if j.IgnoreStartBits < 0 || j.IgnoreStartBits > 7 || j.IgnoreEndBits < 0 || j.IgnoreEndBits > 7 {
		return InvalidParameter
	}
	switch op := j.Op.(type) {
	case Compress:
		if f&DecompressEnable != 0 {
			return InvalidFlags
		}
		if f&NoHeaders != 0 && f&CannedMode == 0 {
			return InvalidFlags
		}
		if op.Level < 0 || op.Level > HighLevel {
			return InvalidParameter
		}
	case Decompress:
	default:
		if analyticsOp(j.Op) == nil {
			return InvalidParameter
		}
	}
	return OK
}

func (j *Job) newEngine() (engine, error) {
	switch op := j.Op.(type) {
	case Compress:
		return newCompressor(j, op), nil
	case Decompress:
		return &decompressor{dec: j.newDecoder()}, nil
	}
	return newFilter(j)
}

// newDecoder returns a flate.Decoder set up for j's flags.
func (j *Job) newDecoder() *flate.Decoder {
	d := &flate.Decoder{
		NoHeaders:       j.Flags&NoHeaders != 0,
		Literals:        j.Flags&Literals != 0,
		IgnoreStartBits: j.IgnoreStartBits,
	}
	switch {
	case j.Flags&GzipMode != 0:
		d.Format = flate.Gzip
	case j.Flags&ZlibMode != 0:
		d.Format = flate.Zlib
	}
	// A headerless stream is coded with the table when one is supplied,
	// and with the fixed code otherwise.
	if t := j.HuffmanTable; t != nil && j.Flags&(CannedMode|NoHeaders) != 0 {
		d.Table = t
		if !t.Kind().Decompresses() {
			// A table that fails here fails again in the decoder or the
			// encoder, which report it.
			if dt, err := t.Decompression(); err == nil {
				d.Table = dt
			}
		}
	}
	d.Reset()
	return d
}
