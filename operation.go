package qpl

import (
	"github.com/andybalholm/qpl/analytics"
	"github.com/andybalholm/qpl/flate"
)

// An Operation is what a Job does: Compress, Decompress, Scan, Extract,
// Select or Expand. Each carries only the parameters it needs.
type Operation interface {
	operation()
}

// Compression levels.
const (
	DefaultLevel = flate.DefaultLevel
	HighLevel    = flate.HighLevel
)

// Compress produces a DEFLATE stream (or a gzip or zlib stream, or a canned
// stream, depending on the Job's flags).
type Compress struct {
	// Level is 1 (DefaultLevel), 2 or 3 (HighLevel). Zero means DefaultLevel.
	Level int
}

// Decompress decodes a stream produced by Compress or by any standard
// DEFLATE, gzip or zlib encoder.
type Decompress struct{}

// The analytics operations. With the DecompressEnable flag, their input is
// a DEFLATE stream that is decompressed on the way in.
type (
	Scan    analytics.Scan
	Extract analytics.Extract
	Select  analytics.Select
	Expand  analytics.Expand
)

// Scan comparisons.
const (
	Equal        = analytics.Equal
	NotEqual     = analytics.NotEqual
	Less         = analytics.Less
	LessEqual    = analytics.LessEqual
	Greater      = analytics.Greater
	GreaterEqual = analytics.GreaterEqual
	Range        = analytics.Range
	NotRange     = analytics.NotRange
)

// Element stream formats.
const (
	LittleEndian = analytics.LittleEndian
	BigEndian    = analytics.BigEndian
	PRLE         = analytics.PRLE
)

// Output widths.
const (
	SameAsInput = analytics.SameAsInput
	Width8      = analytics.Width8
	Width16     = analytics.Width16
	Width32     = analytics.Width32
)

func (Compress) operation()   {}
func (Decompress) operation() {}
func (Scan) operation()       {}
func (Extract) operation()    {}
func (Select) operation()     {}
func (Expand) operation()     {}

// analyticsOp returns the analytics form of op, or nil if op is not an
// analytics operation.
func analyticsOp(op Operation) analytics.Op {
	switch op := op.(type) {
	case Scan:
		return analytics.Scan(op)
	case Extract:
		return analytics.Extract(op)
	case Select:
		return analytics.Select(op)
	case Expand:
		return analytics.Expand(op)
	}
	return nil
}
