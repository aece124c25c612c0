package flate

import (
	"errors"
	"io"
)

// Compression levels.
const (
	DefaultLevel = 1
	HighLevel    = 3
)

// DefaultBlockSize is the amount of input a Writer collects before it finds
// matches and encodes a block.
const DefaultBlockSize = 1 << 16

var ErrClosed = errors.New("flate: write to closed Writer")

// midParams are zlib's level 6 settings.
var midParams = chainParams{good: 8, lazy: 16, nice: 128, chain: 128}

// NewMatchFinder returns a MatchFinder for the given level. Levels 1–3 are
// available; levels outside this range will be replaced with the closest
// level available.
func NewMatchFinder(level int) MatchFinder {
	switch {
	case level <= DefaultLevel:
		return &DualHash{Lazy: true}
	case level < HighLevel:
		return newChainFinder(midParams)
	default:
		return newChainFinder(highParams)
	}
}

// A Writer compresses data by running it through a MatchFinder and a
// BlockEncoder, one block at a time. A block is encoded only once BlockSize
// bytes have been collected, or at Close, so the output does not depend on
// how the input was split between calls to Write.
type Writer struct {
	Dest io.Writer

	// MatchFinder may be nil, in which case every byte is a literal.
	MatchFinder MatchFinder
	Encoder     BlockEncoder

	// BlockSize is the size of the blocks to collect. If it is zero,
	// DefaultBlockSize is used.
	BlockSize int

	buf         []byte
	out         []byte
	matches     []Match
	wroteHeader bool
	closed      bool
	err         error
}

// NewWriter returns a Writer that writes a raw DEFLATE stream to w.
func NewWriter(w io.Writer, level int) *Writer {
	return &Writer{
		Dest:        w,
		MatchFinder: NewMatchFinder(level),
		Encoder:     NewEncoder(),
	}
}

// NewGzipWriter returns a Writer that writes a gzip stream to w.
func NewGzipWriter(w io.Writer, level int) *Writer {
	return &Writer{
		Dest:        w,
		MatchFinder: NewMatchFinder(level),
		Encoder:     NewGzipEncoder(NewEncoder()),
	}
}

// NewZlibWriter returns a Writer that writes a zlib stream to w.
func NewZlibWriter(w io.Writer, level int) *Writer {
	return &Writer{
		Dest:        w,
		MatchFinder: NewMatchFinder(level),
		Encoder:     NewZlibEncoder(NewEncoder(), level),
	}
}

func (w *Writer) blockSize() int {
	if w.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return w.BlockSize
}

func (w *Writer) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	size := w.blockSize()
	start := 0
	for len(w.buf)-start >= size {
		if err := w.encode(w.buf[start:start+size], false); err != nil {
			return 0, err
		}
		start += size
	}
	if start > 0 {
		w.buf = append(w.buf[:0], w.buf[start:]...)
	}
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a block to fill.
func (w *Writer) Buffered() int {
	return len(w.buf)
}

// Flush encodes the buffered input as a block without waiting for it to
// fill. Bits that do not fill a byte stay in the Encoder.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrClosed
	}
	if len(w.buf) == 0 {
		return nil
	}
	err := w.encode(w.buf, false)
	w.buf = w.buf[:0]
	return err
}

// Close encodes whatever input remains as the final block.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.encode(w.buf, true)
	w.buf = w.buf[:0]
	return err
}

func (w *Writer) encode(block []byte, last bool) error {
	w.out = w.out[:0]
	if !w.wroteHeader {
		w.out = w.Encoder.Header(w.out)
		w.wroteHeader = true
	}
	w.matches = w.matches[:0]
	if w.MatchFinder != nil {
		w.matches = w.MatchFinder.FindMatches(w.matches, block)
	} else if len(block) > 0 {
		w.matches = append(w.matches, Match{Unmatched: len(block)})
	}
	w.out = w.Encoder.Encode(w.out, block, w.matches, last)
	if err := w.Encoder.Err(); err != nil {
		w.err = err
		return err
	}
	if _, err := w.Dest.Write(w.out); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Reset discards the Writer's state and makes it write a new stream to dest.
func (w *Writer) Reset(dest io.Writer) {
	w.Dest = dest
	w.buf = w.buf[:0]
	w.wroteHeader = false
	w.closed = false
	w.err = nil
	if w.MatchFinder != nil {
		w.MatchFinder.Reset()
	}
	w.Encoder.Reset()
}
