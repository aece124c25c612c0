package flate

import (
	"bytes"
	stdflate "compress/flate"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"

	kflate "github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/andybalholm/qpl/huffman"
)

var vocabulary = strings.Fields(`the of and to in is was that for it with as his on be at by had are
but from or have an they which one you were her all she there would their we him been has when who
will more no if out so said what up its about into than them can only other new some could time
these two may then do first any my now such like our over man me even most made after also did many
before must through back years where much your way well down should because each just those people
light rays colours refraction prism glass reflected white red violet`)

// testText returns n bytes of pseudo-random English-like text.
func testText(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, 0, n+16)
	for len(b) < n {
		b = append(b, vocabulary[rng.Intn(len(vocabulary))]...)
		if rng.Intn(12) == 0 {
			b = append(b, ".\n"...)
		} else {
			b = append(b, ' ')
		}
	}
	return b[:n]
}

func testRandom(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

var testInputs = []struct {
	name string
	data []byte
}{
	{"empty", nil},
	{"byte", []byte{'x'}},
	{"short", []byte("hello, hello, hello world")},
	{"zeros", make([]byte, 100000)},
	{"text", testText(300000, 1)},
	{"random", testRandom(150000, 2)},
	{"mixed", append(testText(70000, 3), testRandom(70000, 4)...)},
}

func compress(t testing.TB, data []byte, level int, newWriter func(io.Writer, int) *Writer) []byte {
	t.Helper()
	b := new(bytes.Buffer)
	w := newWriter(b, level)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

// decodeAll runs d over src, inStep bytes of input and outStep bytes of
// output at a time.
func decodeAll(d *Decoder, src []byte, inStep, outStep int) ([]byte, error) {
	var out []byte
	buf := make([]byte, outStep)
	for {
		k := len(src)
		if inStep > 0 && k > inStep {
			k = inStep
		}
		n, c, err := d.Decode(buf, src[:k], k == len(src))
		out = append(out, buf[:n]...)
		src = src[c:]
		switch err {
		case nil:
			return out, nil
		case ErrMoreInput, ErrMoreOutput:
		default:
			return out, err
		}
	}
}

func TestReferenceDecoders(t *testing.T) {
	for _, level := range []int{DefaultLevel, 2, HighLevel} {
		for _, in := range testInputs {
			compressed := compress(t, in.data, level, NewWriter)

			got, err := io.ReadAll(kflate.NewReader(bytes.NewReader(compressed)))
			if err != nil {
				t.Fatalf("level %d, %s: klauspost: %v", level, in.name, err)
			}
			if !bytes.Equal(got, in.data) {
				t.Fatalf("level %d, %s: klauspost decoder output doesn't match", level, in.name)
			}

			got, err = io.ReadAll(stdflate.NewReader(bytes.NewReader(compressed)))
			if err != nil {
				t.Fatalf("level %d, %s: compress/flate: %v", level, in.name, err)
			}
			if !bytes.Equal(got, in.data) {
				t.Fatalf("level %d, %s: compress/flate output doesn't match", level, in.name)
			}
		}
	}
}

func TestEmptyStream(t *testing.T) {
	got := compress(t, nil, DefaultLevel, NewWriter)
	if !bytes.Equal(got, []byte{3, 0}) {
		t.Fatalf("empty stream = %x, want 0300", got)
	}
}

func TestStoredBlocks(t *testing.T) {
	data := testRandom(200000, 9)
	compressed := compress(t, data, DefaultLevel, NewWriter)
	if typ := compressed[0] >> 1 & 3; typ != 0 {
		t.Fatalf("first block of random data has type %d, want stored", typ)
	}
	if len(compressed) > len(data)+len(data)/1000 {
		t.Fatalf("random data grew from %d to %d bytes", len(data), len(compressed))
	}
	got, err := decodeAll(new(Decoder), compressed, 0, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestDecodeOwnOutput(t *testing.T) {
	for _, in := range testInputs {
		compressed := compress(t, in.data, HighLevel, NewWriter)
		got, err := decodeAll(new(Decoder), compressed, 0, len(in.data)+1)
		if err != nil {
			t.Fatalf("%s: %v", in.name, err)
		}
		if !bytes.Equal(got, in.data) {
			t.Fatalf("%s: decompressed output doesn't match", in.name)
		}
	}
}

func TestDecodeReferenceStreams(t *testing.T) {
	data := append(testText(200000, 5), testRandom(20000, 6)...)
	for _, level := range []int{kflate.NoCompression, kflate.HuffmanOnly, kflate.BestSpeed, 5, kflate.BestCompression} {
		b := new(bytes.Buffer)
		w, err := kflate.NewWriter(b, level)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
		w.Close()

		got, err := decodeAll(new(Decoder), b.Bytes(), 0, len(data))
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("level %d: decompressed output doesn't match", level)
		}
	}
}

func TestDecoderResume(t *testing.T) {
	data := testText(100000, 7)
	compressed := compress(t, data, DefaultLevel, NewWriter)
	for _, step := range []struct{ in, out int }{
		{1, 1 << 20},
		{1 << 20, 1},
		{3, 7},
		{1000, 333},
	} {
		got, err := decodeAll(new(Decoder), compressed, step.in, step.out)
		if err != nil {
			t.Fatalf("steps %v: %v", step, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("steps %v: decompressed output doesn't match", step)
		}
	}
}

func TestChunkedWrites(t *testing.T) {
	data := testText(250000, 8)
	want := compress(t, data, HighLevel, NewWriter)

	b := new(bytes.Buffer)
	w := NewWriter(b, HighLevel)
	rng := rand.New(rand.NewSource(1))
	for rest := data; len(rest) > 0; {
		n := rng.Intn(40000) + 1
		if n > len(rest) {
			n = len(rest)
		}
		w.Write(rest[:n])
		rest = rest[n:]
	}
	w.Close()
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatal("chunked writes changed the compressed output")
	}
}

func TestGzip(t *testing.T) {
	for _, in := range testInputs {
		compressed := compress(t, in.data, DefaultLevel, NewGzipWriter)
		r, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			t.Fatalf("%s: %v", in.name, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s: %v", in.name, err)
		}
		if !bytes.Equal(got, in.data) {
			t.Fatalf("%s: gzip output doesn't match", in.name)
		}

		got, err = decodeAll(&Decoder{Format: Gzip}, compressed, 5, 4096)
		if err != nil {
			t.Fatalf("%s: %v", in.name, err)
		}
		if !bytes.Equal(got, in.data) {
			t.Fatalf("%s: decompressed output doesn't match", in.name)
		}
	}
}

func TestGzipHeaderFields(t *testing.T) {
	data := testText(5000, 10)
	b := new(bytes.Buffer)
	w := gzip.NewWriter(b)
	w.Name = "opticks.txt"
	w.Comment = "book one"
	w.Extra = []byte{'Q', 'P', 2, 0, 1, 2}
	w.Write(data)
	w.Close()

	got, err := decodeAll(&Decoder{Format: Gzip}, b.Bytes(), 3, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestZlib(t *testing.T) {
	for _, level := range []int{DefaultLevel, HighLevel} {
		for _, in := range testInputs {
			compressed := compress(t, in.data, level, NewZlibWriter)
			r, err := zlib.NewReader(bytes.NewReader(compressed))
			if err != nil {
				t.Fatalf("%s: %v", in.name, err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("%s: %v", in.name, err)
			}
			if !bytes.Equal(got, in.data) {
				t.Fatalf("%s: zlib output doesn't match", in.name)
			}

			got, err = decodeAll(&Decoder{Format: Zlib}, compressed, 0, 1<<20)
			if err != nil {
				t.Fatalf("%s: %v", in.name, err)
			}
			if !bytes.Equal(got, in.data) {
				t.Fatalf("%s: decompressed output doesn't match", in.name)
			}
		}
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := testText(10000, 11)
	compressed := compress(t, data, DefaultLevel, NewGzipWriter)
	compressed[len(compressed)-6] ^= 0x40
	if _, err := decodeAll(&Decoder{Format: Gzip}, compressed, 0, 1<<16); !errors.Is(err, ErrChecksum) {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
}

func TestCorrupt(t *testing.T) {
	// final block, reserved type 3
	if _, err := decodeAll(new(Decoder), []byte{0x07, 0, 0}, 0, 100); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("reserved block type: got %v, want ErrCorrupt", err)
	}
	// stored block whose NLEN is not the complement of LEN
	if _, err := decodeAll(new(Decoder), []byte{0x01, 4, 0, 0, 0, 'a', 'b', 'c', 'd'}, 0, 100); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad stored length: got %v, want ErrCorrupt", err)
	}
}

func TestTruncated(t *testing.T) {
	data := testText(50000, 12)
	compressed := compress(t, data, DefaultLevel, NewWriter)
	_, _, err := new(Decoder).Decode(make([]byte, len(data)), compressed[:len(compressed)/2], true)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func cannedTable(t *testing.T, data []byte, literals bool) *huffman.Table {
	t.Helper()
	h := new(huffman.Histogram)
	if literals {
		GatherLiteralStatistics(h, data)
	} else {
		GatherStatistics(h, data, DefaultLevel)
	}
	tbl := huffman.NewTable(huffman.CombinedTable)
	if err := tbl.InitWithHistogram(h); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestCanned(t *testing.T) {
	data := testText(120000, 13)
	tbl := cannedTable(t, data, false)

	b := new(bytes.Buffer)
	w := &Writer{
		Dest:        b,
		MatchFinder: NewMatchFinder(DefaultLevel),
		Encoder:     &Encoder{Table: tbl},
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// A table built on the other side from the serialized bytes must work
	// the same.
	blob, err := tbl.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	other := new(huffman.Table)
	if err := other.UnmarshalBinary(blob); err != nil {
		t.Fatal(err)
	}

	got, err := decodeAll(&Decoder{Table: other}, b.Bytes(), 777, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestHuffmanOnlyCanned(t *testing.T) {
	for _, size := range []int{1, 2, 7, 100, 4097, 70000} {
		data := testText(size, int64(size))
		tbl := cannedTable(t, data, true)
		enc := &Encoder{Table: tbl, Literals: true}
		b := new(bytes.Buffer)
		w := &Writer{Dest: b, Encoder: enc}
		w.Write(data)
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}

		d := &Decoder{
			Table:         tbl,
			Literals:      true,
			IgnoreEndBits: (8 - enc.LastBitOffset()) % 8,
		}
		got, err := decodeAll(d, b.Bytes(), 50, 1000)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("size %d: decoded %d bytes, want %d", size, len(got), len(data))
		}
	}
}

func TestMissingCode(t *testing.T) {
	lit := make([]uint8, huffman.NumLitLen)
	for i := 'a'; i <= 'p'; i++ {
		lit[i] = 4
	}
	tbl := huffman.NewTable(huffman.CombinedTable)
	if err := tbl.InitWithLengths(lit, nil); err != nil {
		t.Fatal(err)
	}
	w := &Writer{Dest: io.Discard, Encoder: &Encoder{Table: tbl, Literals: true}}
	w.Write([]byte("abcXYZ"))
	if err := w.Close(); !errors.Is(err, ErrMissingCode) {
		t.Fatalf("got %v, want ErrMissingCode", err)
	}
}

func TestDistCode(t *testing.T) {
	for d := 1; d <= maxDistance; d++ {
		c := distCode(d)
		lo := int(distBase[c])
		hi := lo + 1<<distExtra[c]
		if d < lo || d >= hi {
			t.Fatalf("distCode(%d) = %d, which covers [%d, %d)", d, c, lo, hi)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	data := testText(1<<20, 14)
	for _, level := range []int{DefaultLevel, HighLevel} {
		b.Run(fmt.Sprint(level), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			buf := new(bytes.Buffer)
			w := NewWriter(buf, level)
			for i := 0; i < b.N; i++ {
				buf.Reset()
				w.Reset(buf)
				w.Write(data)
				w.Close()
			}
			b.ReportMetric(float64(len(data))/float64(buf.Len()), "ratio")
		})
	}
}

func BenchmarkDecode(b *testing.B) {
	data := testText(1<<20, 15)
	compressed := compress(b, data, DefaultLevel, NewWriter)
	out := make([]byte, len(data))
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		var d Decoder
		if _, _, err := d.Decode(out, compressed, true); err != nil {
			b.Fatal(err)
		}
	}
}
