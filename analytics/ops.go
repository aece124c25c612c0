package analytics

import (
	"fmt"
	"math"
)

// Comparison is the predicate of a Scan.
type Comparison int

const (
	Equal Comparison = iota
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	Range    // Low <= v <= High
	NotRange // v < Low || v > High
)

var comparisonNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge", "range", "not_range"}

func (c Comparison) String() string {
	if c >= 0 && int(c) < len(comparisonNames) {
		return comparisonNames[c]
	}
	return fmt.Sprintf("Comparison(%d)", int(c))
}

func (c Comparison) match(v, low, high uint32) bool {
	switch c {
	case Equal:
		return v == low
	case NotEqual:
		return v != low
	case Less:
		return v < low
	case LessEqual:
		return v <= low
	case Greater:
		return v > low
	case GreaterEqual:
		return v >= low
	case Range:
		return low <= v && v <= high
	case NotRange:
		return v < low || v > high
	}
	return false
}

// An Op is the operation a Processor applies to each element: a Scan,
// Extract, Select or Expand.
type Op interface {
	op()
}

// Scan compares each element with Low (and High, for the range
// comparisons). With SameAsInput output it writes one bit per element, set
// for the matches; with a fixed output width it writes the indices of the
// matching elements.
type Scan struct {
	Cmp       Comparison
	Low, High uint32
}

// Extract writes the elements whose index is in [Low, High].
type Extract struct {
	Low, High uint32
}

// Select writes the elements whose bit in Mask is set. Mask holds one bit
// per element, LSB-first.
type Select struct {
	Mask []byte
}

// Expand is the inverse of Select. Element positions come from Mask, one bit
// per output element, LSB-first: a set bit takes the next input element, a
// clear bit writes zero.
type Expand struct {
	Mask []byte
}

func (Scan) op()    {}
func (Extract) op() {}
func (Select) op()  {}
func (Expand) op()  {}

func maskBit(mask []byte, i int) bool {
	return mask[i>>3]>>(i&7)&1 != 0
}

// Aggregates summarize the decoded input elements.
type Aggregates struct {
	Min uint32
	Max uint32
	Sum uint32 // wraps modulo 2^32

	// Index is the index of the first element a Scan matched. Matched
	// reports whether there was one.
	Index   uint32
	Matched bool
}

// NewAggregates returns the aggregates of an empty stream.
func NewAggregates() Aggregates {
	return Aggregates{Min: math.MaxUint32}
}

func (a *Aggregates) add(v uint32) {
	a.Min = minOf(a.Min, v)
	a.Max = maxOf(a.Max, v)
	a.Sum += v
}

func (a *Aggregates) match(index int) {
	if !a.Matched {
		a.Index = uint32(index)
		a.Matched = true
	}
}
