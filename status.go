package qpl

import (
	"errors"
	"fmt"

	"github.com/andybalholm/qpl/analytics"
	"github.com/andybalholm/qpl/bitstream"
	"github.com/andybalholm/qpl/flate"
	"github.com/andybalholm/qpl/huffman"
)

// Status is the outcome of a call. It implements error, so the functions in
// this package return a Status (or nil for OK), and callers can compare with
// errors.Is.
type Status int

const (
	OK Status = iota

	// The output buffer filled up. Supply a new one and call again; the
	// unconsumed input is still in NextIn.
	MoreOutputNeeded

	// The input ran out before the end of the stream on a call without the
	// Last flag. Supply the next chunk and call again.
	MoreInputNeeded

	LibraryInternalError
	VerificationMismatch
	InvalidHistogram
	InvalidHuffmanTable
	OutputWidthOverflow
	InsufficientInput

	// The output buffer is too small for even one output element. Call
	// again with a larger buffer.
	InsufficientOutputSpace
	CorruptStream
	InvalidPath
	PathUnavailable
	InvalidFlags
	InvalidParameter
	NotInitialized
)

var statusNames = [...]string{
	OK:                      "ok",
	MoreOutputNeeded:        "more output needed",
	MoreInputNeeded:         "more input needed",
	LibraryInternalError:    "library internal error",
	VerificationMismatch:    "verification mismatch",
	InvalidHistogram:        "invalid histogram",
	InvalidHuffmanTable:     "invalid Huffman table",
	OutputWidthOverflow:     "output width overflow",
	InsufficientInput:       "insufficient input",
	InsufficientOutputSpace: "insufficient output space",
	CorruptStream:           "corrupt stream",
	InvalidPath:             "invalid execution path",
	PathUnavailable:         "execution path unavailable",
	InvalidFlags:            "invalid flag combination",
	InvalidParameter:        "invalid parameter",
	NotInitialized:          "job not initialized",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) Error() string {
	return "qpl: " + s.String()
}

// Resumable reports whether a job that stopped with s can be called again
// to carry on with the same stream.
func (s Status) Resumable() bool {
	switch s {
	case OK, MoreOutputNeeded, MoreInputNeeded, InsufficientOutputSpace:
		return true
	}
	return false
}

// statusOf maps an error from one of the codec packages to a Status.
func statusOf(err error) Status {
	var s Status
	switch {
	case err == nil:
		return OK
	case errors.As(err, &s):
		return s
	case errors.Is(err, flate.ErrMoreOutput), errors.Is(err, analytics.ErrMoreOutput):
		return MoreOutputNeeded
	case errors.Is(err, flate.ErrMoreInput), errors.Is(err, analytics.ErrMoreInput):
		return MoreInputNeeded
	case errors.Is(err, flate.ErrTruncated), errors.Is(err, analytics.ErrTruncated),
		errors.Is(err, bitstream.ErrInsufficientInput):
		return InsufficientInput
	case errors.Is(err, bitstream.ErrInsufficientOutput), errors.Is(err, analytics.ErrOutputTooSmall):
		return InsufficientOutputSpace
	case errors.Is(err, flate.ErrCorrupt), errors.Is(err, flate.ErrChecksum),
		errors.Is(err, analytics.ErrCorrupt):
		return CorruptStream
	case errors.Is(err, analytics.ErrOutputWidthOverflow):
		return OutputWidthOverflow
	case errors.Is(err, huffman.ErrInvalidHistogram):
		return InvalidHistogram
	case errors.Is(err, huffman.ErrInvalidLengths), errors.Is(err, huffman.ErrCorruptTable),
		errors.Is(err, huffman.ErrTableKind), errors.Is(err, huffman.ErrNotReady),
		errors.Is(err, huffman.ErrInvalidCode), errors.Is(err, flate.ErrMissingCode):
		return InvalidHuffmanTable
	case errors.Is(err, analytics.ErrInvalidWidth), errors.Is(err, analytics.ErrInvalidParameter):
		return InvalidParameter
	}
	return LibraryInternalError
}
