package flate

import "github.com/andybalholm/qpl/huffman"

// GatherStatistics adds the symbols that compressing src at the given level
// would produce to h, including one end-of-block code. src is split into
// blocks exactly as a Writer would split it.
func GatherStatistics(h *huffman.Histogram, src []byte, level int) {
	mf := NewMatchFinder(level)
	var matches []Match
	var tokens []token
	for len(src) > 0 {
		n := len(src)
		if n > DefaultBlockSize {
			n = DefaultBlockSize
		}
		matches = mf.FindMatches(matches[:0], src[:n])
		tokens = appendTokens(tokens[:0], src[:n], matches, false)
		countTokens(h, tokens)
		src = src[n:]
	}
	h.LitLen[huffman.EndOfBlock]++
}

// GatherLiteralStatistics adds the bytes of src to h as literals, for tables
// meant for Huffman-only streams.
func GatherLiteralStatistics(h *huffman.Histogram, src []byte) {
	for _, b := range src {
		h.LitLen[b]++
	}
}
