package qpl

import (
	"github.com/andybalholm/qpl/flate"
	"github.com/andybalholm/qpl/huffman"
)

// NewHuffmanTable returns an empty table of the given kind, for use with
// jobs on path p. Fill it in with InitWithHistogram, InitWithLengths or
// UnmarshalBinary before a job uses it, and call Destroy once no job refers
// to it any more.
func NewHuffmanTable(kind huffman.Kind, p Path) (*huffman.Table, error) {
	if err := checkPath(p); err != nil {
		return nil, err
	}
	switch kind {
	case huffman.CompressionTable, huffman.DecompressionTable, huffman.CombinedTable:
	default:
		return nil, InvalidParameter
	}
	return huffman.NewTable(kind), nil
}

// GatherDeflateStatistics adds to h the symbols that compressing src at the
// given level produces, so that a table built from h can compress src in
// canned mode.
func GatherDeflateStatistics(src []byte, h *huffman.Histogram, level int, p Path) error {
	if err := checkPath(p); err != nil {
		return err
	}
	if level == 0 {
		level = DefaultLevel
	}
	if level < 0 || level > HighLevel {
		return InvalidParameter
	}
	flate.GatherStatistics(h, src, level)
	return nil
}

// GatherLiteralStatistics adds the bytes of src to h as literals, for tables
// used with the Literals flag.
func GatherLiteralStatistics(src []byte, h *huffman.Histogram, p Path) error {
	if err := checkPath(p); err != nil {
		return err
	}
	flate.GatherLiteralStatistics(h, src)
	return nil
}

func checkPath(p Path) error {
	if !p.valid() {
		return InvalidPath
	}
	if p == Hardware && registeredAccelerator() == nil {
		return PathUnavailable
	}
	return nil
}
