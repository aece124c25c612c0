package flate

import (
	"encoding/binary"
	"math/bits"
)

// This file is based on code from github.com/golang/snappy.

//Copyright (c) 2011 The Snappy-Go Authors. All rights reserved.
//
//Redistribution and use in source and binary forms, with or without
//modification, are permitted provided that the following conditions are
//met:
//
//   * Redistributions of source code must retain the above copyright
//notice, this list of conditions and the following disclaimer.
//   * Redistributions in binary form must reproduce the above
//copyright notice, this list of conditions and the following disclaimer
//in the documentation and/or other materials provided with the
//distribution.
//   * Neither the name of Google Inc. nor the names of its
//contributors may be used to endorse or promote products derived from
//this software without specific prior written permission.
//
//THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
//"AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
//LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
//A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
//OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
//SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
//LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
//DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
//THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
//(INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
//OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

const (
	maxTableSize = 1 << 14
	shift        = 32 - 14
	// tableMask is redundant, but helps the compiler eliminate bounds
	// checks.
	tableMask = maxTableSize - 1

	// DEFLATE limits.
	maxDistance = 32768
	maxLength   = 258
	minLength   = 3
)

// DualHash is the match finder for DefaultLevel. It is snappy's search loop
// with two hash tables, one keyed on 4 bytes and one on 8, restricted to
// DEFLATE's distance and length limits. It can find matches in the previous
// block as well as the current one.
type DualHash struct {
	// Set Lazy to check one byte ahead of each match for a longer one.
	Lazy bool

	table     [maxTableSize]uint32
	prevBlock []byte
}

func (q *DualHash) Reset() {
	q.table = [maxTableSize]uint32{}
	q.prevBlock = q.prevBlock[:0]
}

// FindMatches looks for matches in src, appends them to dst, and returns dst.
func (q *DualHash) FindMatches(dst []Match, src []byte) []Match {
	// sLimit is when to stop looking for offset/length copies. The input margin
	// gives us room to use a 64-bit load for hashing.
	sLimit := len(src) - 8

	// nextEmit is where in src the next literal run starts.
	nextEmit := 0

	// The first byte of a stream has nothing before it to match, so the
	// search starts at 1.
	s := 1

	if s > sLimit {
		goto emitRemainder
	}

	for {
		// Heuristic match skipping: after 32 bytes without a match, look at
		// every other byte; after 32 more, every third, and so on. A match
		// resets the step. This costs very little on compressible data and
		// lets the search move quickly through incompressible data.
		skip := 32

		nextS := s
		var match, matchLen int
		for {
			s = nextS
			step := skip >> 5
			nextS = s + step
			skip += step
			if nextS > sLimit {
				goto emitRemainder
			}
			x := binary.LittleEndian.Uint64(src[s:])
			h := dualHash4(uint32(x)) & tableMask
			h8 := hash8(x) & tableMask
			candidate := int(q.table[h])
			candidate8 := int(q.table[h8])
			q.table[h] = uint32(s)
			q.table[h8] = uint32(s)
			match, matchLen = q.checkMatch(src, s, candidate)
			match8, len8 := q.checkMatch(src, s, candidate8)
			if len8 > matchLen {
				match, matchLen = match8, len8
			}
			if matchLen >= 4 {
				break
			}
		}

		base := s
		origBase := base

		if q.Lazy && base+1 < sLimit {
			i := base + 1
			h := hash8(binary.LittleEndian.Uint64(src[i:]))
			lazyCandidate := int(q.table[h&tableMask])
			q.table[h&tableMask] = uint32(i)
			lazyMatch, lazyLen := q.checkMatch(src, i, lazyCandidate)
			if lazyLen > matchLen {
				base = i
				match = lazyMatch
				matchLen = lazyLen
			}
		}

		s = base + matchLen
		dst, nextEmit = appendMatch(dst, nextEmit, base, s, match)
		if s >= sLimit {
			goto emitRemainder
		}

		// Hashing at only every other byte inside the match is a significant
		// speedup for little loss.
		for i := origBase + 1; i < s; i += 2 {
			x := binary.LittleEndian.Uint64(src[i:])
			q.table[dualHash4(uint32(x))&tableMask] = uint32(i)
			q.table[hash8(x)&tableMask] = uint32(i)
		}
	}

emitRemainder:
	if nextEmit < len(src) {
		dst = append(dst, Match{
			Unmatched: len(src) - nextEmit,
		})
	}
	q.prevBlock = append(q.prevBlock[:0], src...)
	return dst
}

// appendMatch appends the match of src[base:end] against the string at match
// (negative if it starts in the previous block), splitting it into pieces no
// longer than maxLength. It returns the new nextEmit.
func appendMatch(dst []Match, nextEmit, base, end, match int) ([]Match, int) {
	for end-base > maxLength {
		length := maxLength
		if end-base < maxLength+minLength {
			length = end - base - minLength
		}
		dst = append(dst, Match{
			Unmatched: base - nextEmit,
			Length:    length,
			Distance:  base - match,
		})
		base += length
		match += length
		nextEmit = base
	}
	dst = append(dst, Match{
		Unmatched: base - nextEmit,
		Length:    end - base,
		Distance:  base - match,
	})
	return dst, end
}

func dualHash4(u uint32) uint32 {
	return (u * 0x1e35a7bd) >> shift
}

func hash8(u uint64) uint32 {
	return uint32((u * 0x1FE35A7BD3579BD3) >> (shift + 32))
}

// checkMatch checks whether there is a usable match for pos at candidate.
// It returns the adjusted match location (negative if it's in the previous
// block), and the length of the match.
func (q *DualHash) checkMatch(src []byte, pos, candidate int) (matchPos, matchLen int) {
	if candidate == 0 {
		return 0, 0
	}

	if candidate < pos {
		if pos-candidate <= maxDistance && binary.LittleEndian.Uint32(src[pos:]) == binary.LittleEndian.Uint32(src[candidate:]) {
			end := extendMatch(src, candidate+4, pos+4)
			return candidate, end - pos
		}
	} else if candidate < len(q.prevBlock)-3 {
		if pos+len(q.prevBlock)-candidate <= maxDistance && binary.LittleEndian.Uint32(src[pos:]) == binary.LittleEndian.Uint32(q.prevBlock[candidate:]) {
			end := extendMatch2(q.prevBlock, candidate, src, pos)
			return candidate - len(q.prevBlock), end - pos
		}
	}

	return 0, 0
}

// extendMatch returns the largest k such that k <= len(src) and that
// src[i:i+k-j] and src[j:k] have the same contents.
//
// It assumes that:
//	0 <= i && i < j && j <= len(src)
func extendMatch(src []byte, i, j int) int {
	for j+8 < len(src) {
		iBytes := binary.LittleEndian.Uint64(src[i:])
		jBytes := binary.LittleEndian.Uint64(src[j:])
		if iBytes != jBytes {
			return j + bits.TrailingZeros64(iBytes^jBytes)>>3
		}
		i, j = i+8, j+8
	}
	for ; j < len(src) && src[i] == src[j]; i, j = i+1, j+1 {
	}
	return j
}

// extendMatch2 returns the largest k such that src1[i:i+k-j] and src2[j:k]
// have the same contents (and all these indexes are valid).
func extendMatch2(src1 []byte, i int, src2 []byte, j int) int {
	for i+8 < len(src1) && j+8 < len(src2) {
		iBytes := binary.LittleEndian.Uint64(src1[i:])
		jBytes := binary.LittleEndian.Uint64(src2[j:])
		if iBytes != jBytes {
			return j + bits.TrailingZeros64(iBytes^jBytes)>>3
		}
		i, j = i+8, j+8
	}
	for ; i < len(src1) && j < len(src2) && src1[i] == src2[j]; i, j = i+1, j+1 {
	}
	return j
}
