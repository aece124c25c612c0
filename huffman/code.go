// Package huffman builds canonical, length-limited Huffman codes for the
// DEFLATE alphabets and packages them as tables that can be shared between
// compressing and decompressing jobs.
package huffman

import (
	"errors"
	"math/bits"

	"golang.org/x/exp/slices"
)

const (
	// MaxBits is the longest code DEFLATE allows for the literal/length and
	// distance alphabets.
	MaxBits = 15

	NumLitLen = 286 // literals, end-of-block, and lengths
	NumDist   = 30

	EndOfBlock = 256
)

var (
	ErrInvalidHistogram = errors.New("huffman: histogram has no symbols")
	ErrInvalidLengths   = errors.New("huffman: code lengths do not form a prefix code")
	ErrInvalidCode      = errors.New("huffman: invalid code in stream")
	ErrCorruptTable     = errors.New("huffman: corrupt serialized table")
	ErrTableKind        = errors.New("huffman: operation not supported by table kind")
	ErrNotReady         = errors.New("huffman: table has not been initialized")
)

// A Code is a prefix code ready to be written LSB-first: Bits holds the code
// with its bit order reversed.
type Code struct {
	Bits uint16
	Len  uint8
}

// BuildLengths returns code lengths, none longer than maxBits, for a Huffman
// code over the symbols with nonzero frequency. Symbols with zero frequency
// get length 0. A lone symbol gets length 1.
//
// Equal frequencies are broken by symbol order, so equal inputs always give
// equal lengths. When the optimal code is too deep, small counts are raised
// to a doubling floor and the tree is rebuilt until it fits.
func BuildLengths(freq []uint32, maxBits int) []uint8 {
	lens := make([]uint8, len(freq))
	var leaves []leaf
	for sym, c := range freq {
		if c > 0 {
			leaves = append(leaves, leaf{count: c, sym: sym})
		}
	}
	switch len(leaves) {
	case 0:
		return lens
	case 1:
		lens[leaves[0].sym] = 1
		return lens
	}

	clamped := make([]leaf, len(leaves))
	for floor := uint32(1); ; floor *= 2 {
		copy(clamped, leaves)
		for i := range clamped {
			if clamped[i].count < floor {
				clamped[i].count = floor
			}
		}
		slices.SortStableFunc(clamped, func(a, b leaf) bool {
			return a.count < b.count
		})
		if setDepths(clamped, lens, maxBits) {
			return lens
		}
	}
}

type leaf struct {
	count uint32
	sym   int
}

type node struct {
	weight      uint64
	left, right int // left < 0 marks a leaf, and right is its symbol
}

// setDepths builds a Huffman tree over the sorted leaves with the two-queue
// method and stores each symbol's depth in lens. It reports false, leaving
// lens unspecified, if some depth exceeds maxBits.
func setDepths(leaves []leaf, lens []uint8, maxBits int) bool {
	n := len(leaves)
	nodes := make([]node, 0, 2*n-1)
	for _, l := range leaves {
		nodes = append(nodes, node{weight: uint64(l.count), left: -1, right: l.sym})
	}
	i, j := 0, n
	pick := func() int {
		if i < n && (j >= len(nodes) || nodes[i].weight <= nodes[j].weight) {
			i++
			return i - 1
		}
		j++
		return j - 1
	}
	for k := 0; k < n-1; k++ {
		a := pick()
		b := pick()
		nodes = append(nodes, node{weight: nodes[a].weight + nodes[b].weight, left: a, right: b})
	}

	depth := make([]int, len(nodes))
	for idx := len(nodes) - 1; idx >= n; idx-- {
		nd := nodes[idx]
		depth[nd.left] = depth[idx] + 1
		depth[nd.right] = depth[idx] + 1
	}
	for idx := 0; idx < n; idx++ {
		if depth[idx] > maxBits {
			return false
		}
		lens[nodes[idx].right] = uint8(depth[idx])
	}
	return true
}

// AssignCodes assigns canonical codes to lens: shorter codes first, and
// within one length, lower symbols first.
func AssignCodes(lens []uint8) []Code {
	var count [MaxBits + 1]int
	for _, l := range lens {
		count[l]++
	}
	count[0] = 0

	var next [MaxBits + 1]int
	code := 0
	for b := 1; b <= MaxBits; b++ {
		code = (code + count[b-1]) << 1
		next[b] = code
	}

	codes := make([]Code, len(lens))
	for sym, l := range lens {
		if l == 0 {
			continue
		}
		codes[sym] = Code{Bits: reverse(uint16(next[l]), l), Len: l}
		next[l]++
	}
	return codes
}

func reverse(c uint16, n uint8) uint16 {
	return bits.Reverse16(c) >> (16 - n)
}

// checkLengths reports whether lens describes a prefix code. Incomplete codes
// are allowed.
func checkLengths(lens []uint8) error {
	var count [MaxBits + 1]int
	for _, l := range lens {
		if l > MaxBits {
			return ErrInvalidLengths
		}
		count[l]++
	}
	left := 1
	for b := 1; b <= MaxBits; b++ {
		left <<= 1
		left -= count[b]
		if left < 0 {
			return ErrInvalidLengths
		}
	}
	return nil
}
