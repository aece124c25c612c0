package huffman

import (
	"bytes"
	"encoding/binary"

	"github.com/pierrec/xxHash/xxHash32"
)

// A Histogram counts literal/length and distance symbols, as gathered from a
// source buffer before building a table.
type Histogram struct {
	LitLen [NumLitLen]uint32
	Dist   [NumDist]uint32
}

func (h *Histogram) Reset() {
	*h = Histogram{}
}

// Empty reports whether every count is zero.
func (h *Histogram) Empty() bool {
	for _, c := range h.LitLen {
		if c != 0 {
			return false
		}
	}
	for _, c := range h.Dist {
		if c != 0 {
			return false
		}
	}
	return true
}

// Kind says which directions a Table serves.
type Kind uint8

const (
	CompressionTable Kind = iota + 1
	DecompressionTable
	CombinedTable
)

// Compresses reports whether tables of kind k can encode.
func (k Kind) Compresses() bool { return k == CompressionTable || k == CombinedTable }

// Decompresses reports whether tables of kind k can decode.
func (k Kind) Decompresses() bool { return k == DecompressionTable || k == CombinedTable }

// A Table is a pair of DEFLATE codes (literal/length and distance) that jobs
// use in canned mode, where the code is agreed on out of band instead of
// being sent in a block header.
//
// A Table is filled in once, by InitWithHistogram, InitWithLengths, or
// UnmarshalBinary, and is read-only afterwards, so any number of jobs may use
// it at once. It must not be re-initialized or destroyed while a job still
// refers to it.
type Table struct {
	kind  Kind
	ready bool

	litLens  [NumLitLen]uint8
	distLens [NumDist]uint8

	litCodes  []Code
	distCodes []Code

	litDec  *Decoder
	distDec *Decoder
}

// NewTable returns an empty table of the given kind.
func NewTable(kind Kind) *Table {
	return &Table{kind: kind}
}

func (t *Table) Kind() Kind {
	return t.kind
}

// Ready reports whether t has been initialized.
func (t *Table) Ready() bool {
	return t.ready
}

// InitWithHistogram builds the table's codes from h. Symbols h never saw are
// counted once, so the resulting code can encode any input.
func (t *Table) InitWithHistogram(h *Histogram) error {
	if h.Empty() {
		return ErrInvalidHistogram
	}
	var lit [NumLitLen]uint32
	var dist [NumDist]uint32
	for i, c := range h.LitLen {
		lit[i] = c
		if c == 0 {
			lit[i] = 1
		}
	}
	for i, c := range h.Dist {
		dist[i] = c
		if c == 0 {
			dist[i] = 1
		}
	}
	return t.InitWithLengths(BuildLengths(lit[:], MaxBits), BuildLengths(dist[:], MaxBits))
}

// InitWithLengths builds the table from raw code lengths. Missing entries
// are treated as zero.
func (t *Table) InitWithLengths(litLens, distLens []uint8) error {
	if len(litLens) > NumLitLen || len(distLens) > NumDist {
		return ErrInvalidLengths
	}
	t.ready = false
	t.litLens = [NumLitLen]uint8{}
	t.distLens = [NumDist]uint8{}
	copy(t.litLens[:], litLens)
	copy(t.distLens[:], distLens)
	return t.build()
}

func (t *Table) build() error {
	if err := checkLengths(t.litLens[:]); err != nil {
		return err
	}
	if err := checkLengths(t.distLens[:]); err != nil {
		return err
	}
	t.litCodes, t.distCodes = nil, nil
	t.litDec, t.distDec = nil, nil
	if t.kind.Compresses() {
		t.litCodes = AssignCodes(t.litLens[:])
		t.distCodes = AssignCodes(t.distLens[:])
	}
	if t.kind.Decompresses() {
		var err error
		if t.litDec, err = NewDecoder(t.litLens[:]); err != nil {
			return err
		}
		if t.distDec, err = NewDecoder(t.distLens[:]); err != nil {
			return err
		}
	}
	t.ready = true
	return nil
}

// Decompression returns a decompression table with the same codes as t.
func (t *Table) Decompression() (*Table, error) {
	if !t.ready {
		return nil, ErrNotReady
	}
	if t.kind == DecompressionTable {
		return t, nil
	}
	d := &Table{kind: DecompressionTable, litLens: t.litLens, distLens: t.distLens}
	if err := d.build(); err != nil {
		return nil, err
	}
	return d, nil
}

// LitLen returns the code for a literal/length symbol. A zero Len means the
// table cannot encode the symbol.
func (t *Table) LitLen(sym int) Code {
	return t.litCodes[sym]
}

func (t *Table) Dist(sym int) Code {
	return t.distCodes[sym]
}

// LitLenDecoder returns the literal/length decoder, or nil if t is a
// compression-only table.
func (t *Table) LitLenDecoder() *Decoder {
	return t.litDec
}

func (t *Table) DistDecoder() *Decoder {
	return t.distDec
}

// Lengths returns the code lengths of both alphabets.
func (t *Table) Lengths() (litLens, distLens []uint8) {
	return t.litLens[:], t.distLens[:]
}

var tableMagic = [4]byte{'Q', 'H', 'T', 1}

const serializedSize = len(tableMagic) + 1 + NumLitLen + NumDist + 4

// MarshalBinary serializes t. Equal tables serialize to equal bytes.
func (t *Table) MarshalBinary() ([]byte, error) {
	if !t.ready {
		return nil, ErrNotReady
	}
	b := make([]byte, 0, serializedSize)
	b = append(b, tableMagic[:]...)
	b = append(b, byte(t.kind))
	b = append(b, t.litLens[:]...)
	b = append(b, t.distLens[:]...)
	h := xxHash32.New(0)
	h.Write(b)
	return binary.LittleEndian.AppendUint32(b, h.Sum32()), nil
}

// UnmarshalBinary replaces t with a table serialized by MarshalBinary.
func (t *Table) UnmarshalBinary(data []byte) error {
	if len(data) != serializedSize {
		return ErrCorruptTable
	}
	body := data[:len(data)-4]
	h := xxHash32.New(0)
	h.Write(body)
	if h.Sum32() != binary.LittleEndian.Uint32(data[len(body):]) {
		return ErrCorruptTable
	}
	if !bytes.Equal(body[:4], tableMagic[:]) {
		return ErrCorruptTable
	}
	kind := Kind(body[4])
	if kind < CompressionTable || kind > CombinedTable {
		return ErrCorruptTable
	}
	*t = Table{kind: kind}
	copy(t.litLens[:], body[5:5+NumLitLen])
	copy(t.distLens[:], body[5+NumLitLen:])
	return t.build()
}

// Destroy releases the table's codes. Using t afterwards is a programming
// error.
func (t *Table) Destroy() {
	*t = Table{}
}
