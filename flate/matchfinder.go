// Copyright 2009 The Go Authors. All rights reserved.
// Copyright (c) 2015 Klaus Post
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flate

import (
	"encoding/binary"
	"math/bits"
)

const (
	logWindowSize  = 15
	windowSize     = 1 << logWindowSize
	windowMask     = windowSize - 1
	minMatchLength = 4 // The smallest match that the chain finder looks for

	hashBits      = 17 // After 17 performance degrades
	hashSize      = 1 << hashBits
	hashMask      = (1 << hashBits) - 1
	maxHashOffset = 1 << 24
)

// chainParams tune the hash-chain search.
type chainParams struct {
	good  int // once a match this long is found, search only 1/4 of the chain
	lazy  int // do not look for a better match after one this long
	nice  int // stop searching once a match this long is found
	chain int // maximum number of chain entries to examine
}

// highParams are zlib's level 9 settings.
var highParams = chainParams{good: 32, lazy: 258, nice: 258, chain: 4096}

// chainState holds the hash chains over the window.
type chainState struct {
	length         int
	offset         int
	maxInsertIndex int

	// hashHead[hashValue] contains the largest inputIndex with the specified
	// hash value. If hashHead[hashValue] is within the current window, then
	// hashPrev[hashHead[hashValue] & windowMask] contains the previous index
	// with the same hash value.
	chainHead  int
	hashHead   [hashSize]uint32
	hashPrev   [windowSize]uint32
	hashOffset int

	// unprocessed data is window[index:windowEnd]
	index     int
	hashMatch [maxLength + minMatchLength]uint32

	hash uint32
	ii   uint16 // position of last match, intended to overflow to reset.
}

// chainFinder is the lazy-matching hash-chain search from
// github.com/klauspost/compress/flate, turned into a MatchFinder. It is the
// match finder for levels 2 and HighLevel.
type chainFinder struct {
	chainParams

	window    []byte
	windowEnd int

	matches []Match

	state chainState

	sync          bool // process everything in the window
	byteAvailable bool // if true, still need to process window[index-1].
	unmatched     int  // unmatched bytes to output with the next match
}

func newChainFinder(p chainParams) *chainFinder {
	c := &chainFinder{
		chainParams: p,
		window:      make([]byte, 2*windowSize),
	}
	c.Reset()
	return c
}

func (d *chainFinder) fillWindow(b []byte) int {
	s := &d.state
	if s.index >= 2*windowSize-(minMatchLength+maxLength) {
		// shift the window by windowSize
		copy(d.window[:], d.window[windowSize:2*windowSize])
		s.index -= windowSize
		d.windowEnd -= windowSize
		s.hashOffset += windowSize
		if s.hashOffset > maxHashOffset {
			delta := s.hashOffset - 1
			s.hashOffset -= delta
			s.chainHead -= delta
			// Iterate over slices instead of arrays to avoid copying
			// the entire table onto the stack.
			for i, v := range s.hashPrev[:] {
				if int(v) > delta {
					s.hashPrev[i] = uint32(int(v) - delta)
				} else {
					s.hashPrev[i] = 0
				}
			}
			for i, v := range s.hashHead[:] {
				if int(v) > delta {
					s.hashHead[i] = uint32(int(v) - delta)
				} else {
					s.hashHead[i] = 0
				}
			}
		}
	}
	n := copy(d.window[d.windowEnd:], b)
	d.windowEnd += n
	return n
}

// findMatch looks for a match at pos longer than prevLength, walking at most
// d.chain entries of the chain that starts at prevHead.
func (d *chainFinder) findMatch(pos int, prevHead int, prevLength int, lookahead int) (length, offset int, ok bool) {
	minMatchLook := maxLength
	if lookahead < minMatchLook {
		minMatchLook = lookahead
	}

	win := d.window[0 : pos+minMatchLook]

	nice := len(win) - pos
	if d.nice < nice {
		nice = d.nice
	}

	tries := d.chain
	length = prevLength
	if length >= d.good {
		tries >>= 2
	}

	wEnd := win[pos+length]
	wPos := win[pos:]
	minIndex := pos - windowSize

	for i := prevHead; tries > 0; tries-- {
		if wEnd == win[i+length] {
			n := matchLen(win[i:i+minMatchLook], wPos)

			if n > length && (n > minMatchLength || pos-i <= 4096) {
				length = n
				offset = pos - i
				ok = true
				if n >= nice {
					break
				}
				wEnd = win[pos+n]
			}
		}
		if i == minIndex {
			// hashPrev[i & windowMask] has already been overwritten, so stop now.
			break
		}
		i = int(d.state.hashPrev[i&windowMask]) - d.state.hashOffset
		if i < minIndex || i < 0 {
			break
		}
	}
	return
}

const prime4bytes = 2654435761

// hash4 returns the hash of the first 4 bytes of b, which must hold at least
// 4 bytes.
func hash4(b []byte) uint32 {
	u := binary.BigEndian.Uint32(b)
	return (u * prime4bytes) >> (32 - hashBits)
}

// bulkHash4 computes hash4 for every 4-byte window of b.
func bulkHash4(b []byte, dst []uint32) {
	if len(b) < 4 {
		return
	}
	hb := binary.BigEndian.Uint32(b)
	dst[0] = (hb * prime4bytes) >> (32 - hashBits)
	end := len(b) - 4 + 1
	for i := 1; i < end; i++ {
		hb = (hb << 8) | uint32(b[i+3])
		dst[i] = (hb * prime4bytes) >> (32 - hashBits)
	}
}

// insertMatch adds the strings inside a match of length n at s.index to the
// hash chains and moves past the match.
func (d *chainFinder) insertMatch(n int) {
	s := &d.state
	newIndex := s.index + n - 1
	end := newIndex
	if end > s.maxInsertIndex {
		end = s.maxInsertIndex
	}
	end += minMatchLength - 1
	startindex := s.index + 1
	if startindex > s.maxInsertIndex {
		startindex = s.maxInsertIndex
	}
	tocheck := d.window[startindex:end]
	dstSize := len(tocheck) - minMatchLength + 1
	if dstSize > 0 {
		dst := s.hashMatch[:dstSize]
		bulkHash4(tocheck, dst)
		var newH uint32
		for i, val := range dst {
			di := i + startindex
			newH = val & hashMask
			s.hashPrev[di&windowMask] = s.hashHead[newH]
			s.hashHead[newH] = uint32(di + s.hashOffset)
		}
		s.hash = newH
	}
	s.index = newIndex
}

// search runs lazy matching over the window. Unless d.sync is set it stops
// while there is still enough lookahead for a maximal match.
func (d *chainFinder) search() {
	s := &d.state
	if d.windowEnd-s.index < minMatchLength+maxLength && !d.sync {
		return
	}

	s.maxInsertIndex = d.windowEnd - (minMatchLength - 1)
	if s.index < s.maxInsertIndex {
		s.hash = hash4(d.window[s.index : s.index+minMatchLength])
	}

	for {
		lookahead := d.windowEnd - s.index
		if lookahead < minMatchLength+maxLength {
			if !d.sync {
				return
			}
			if lookahead == 0 {
				if d.byteAvailable {
					d.unmatched++
					d.byteAvailable = false
				}
				return
			}
		}
		if s.index < s.maxInsertIndex {
			s.hash = hash4(d.window[s.index : s.index+minMatchLength])
			ch := s.hashHead[s.hash&hashMask]
			s.chainHead = int(ch)
			s.hashPrev[s.index&windowMask] = ch
			s.hashHead[s.hash&hashMask] = uint32(s.index + s.hashOffset)
		}
		prevLength := s.length
		prevOffset := s.offset
		s.length = minMatchLength - 1
		s.offset = 0
		minIndex := s.index - windowSize
		if minIndex < 0 {
			minIndex = 0
		}

		if s.chainHead-s.hashOffset >= minIndex && lookahead > prevLength && prevLength < d.lazy {
			if newLength, newOffset, ok := d.findMatch(s.index, s.chainHead-s.hashOffset, minMatchLength-1, lookahead); ok {
				s.length = newLength
				s.offset = newOffset
			}
		}
		if prevLength >= minMatchLength && s.length <= prevLength {
			// The match at the previous byte is at least as good; take it.
			d.matches = append(d.matches, Match{
				Unmatched: d.unmatched,
				Length:    prevLength,
				Distance:  prevOffset,
			})
			d.unmatched = 0
			d.insertMatch(prevLength)
			d.byteAvailable = false
			s.length = minMatchLength - 1
			continue
		}

		if s.length >= minMatchLength {
			s.ii = 0
		}
		if !d.byteAvailable {
			s.index++
			d.byteAvailable = true
			continue
		}
		s.ii++
		d.unmatched++
		s.index++

		// After a long run without matches, step over more bytes at a time.
		// ii overflows, and so resets, after 64 KiB.
		if s.ii > 31 {
			n := int(s.ii >> 5)
			for j := 0; j < n; j++ {
				if s.index >= d.windowEnd-1 {
					break
				}
				d.unmatched++
				s.index++
			}
			d.unmatched++
			d.byteAvailable = false
		}
	}
}

func (d *chainFinder) FindMatches(dst []Match, b []byte) []Match {
	d.matches = dst
	for len(b) > 0 {
		d.search()
		b = b[d.fillWindow(b):]
	}
	d.sync = true
	d.search()
	d.sync = false
	if d.unmatched > 0 {
		d.matches = append(d.matches, Match{
			Unmatched: d.unmatched,
		})
		d.unmatched = 0
	}
	return d.matches
}

func (d *chainFinder) Reset() {
	d.sync = false
	s := &d.state
	s.chainHead = -1
	for i := range s.hashHead {
		s.hashHead[i] = 0
	}
	for i := range s.hashPrev {
		s.hashPrev[i] = 0
	}
	s.hashOffset = 1
	s.index, d.windowEnd = 0, 0
	d.byteAvailable = false
	d.matches = nil
	s.length = minMatchLength - 1
	s.offset = 0
	s.hash = 0
	s.ii = 0
	s.maxInsertIndex = 0
	d.unmatched = 0
}

// matchLen returns the number of leading bytes a and b share.
// 'a' must be the shortest of the two.
func matchLen(a, b []byte) int {
	var checked int

	for len(a) >= 8 {
		if diff := binary.LittleEndian.Uint64(a) ^ binary.LittleEndian.Uint64(b); diff != 0 {
			return checked + (bits.TrailingZeros64(diff) >> 3)
		}
		checked += 8
		a = a[8:]
		b = b[8:]
	}
	b = b[:len(a)]
	for i := range a {
		if a[i] != b[i] {
			return i + checked
		}
	}
	return len(a) + checked
}
