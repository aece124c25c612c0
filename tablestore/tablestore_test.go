package tablestore

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"

	"github.com/andybalholm/qpl/flate"
	"github.com/andybalholm/qpl/huffman"
)

func testTable(t *testing.T, seed int64) *huffman.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	h := new(huffman.Histogram)
	for i := 0; i < 5000; i++ {
		h.LitLen[rng.Intn(100)]++
		h.Dist[rng.Intn(10)]++
	}
	h.LitLen[huffman.EndOfBlock]++
	tbl := huffman.NewTable(huffman.CombinedTable)
	if err := tbl.InitWithHistogram(h); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestSaveLoad(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	tbl := testTable(t, 1)
	if err := s.Save("text", tbl); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("text")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := tbl.MarshalBinary()
	blob, _ := got.MarshalBinary()
	if !bytes.Equal(blob, want) {
		t.Fatal("loaded table differs from the saved one")
	}
	if got.Kind() != huffman.CombinedTable || !got.Ready() {
		t.Fatalf("loaded table kind %v, ready %v", got.Kind(), got.Ready())
	}

	// The file is an ordinary snappy stream.
	raw, err := os.ReadFile(filepath.Join(s.Dir, "text"+ext))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(snappy.NewReader(bytes.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, want) {
		t.Fatal("file does not hold the serialized table")
	}
}

func TestFrameEncoder(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var data []byte
	for len(data) < 300000 {
		if rng.Intn(4) == 0 {
			data = append(data, byte(rng.Intn(256)))
			continue
		}
		n := rng.Intn(300) + 1
		if n > len(data) {
			n = len(data)
		}
		start := len(data) - rng.Intn(len(data)+1)
		if start+n > len(data) {
			start = len(data) - n
		}
		data = append(data, data[start:start+n]...)
		data = append(data, 'x')
	}

	buf := new(bytes.Buffer)
	w := &flate.Writer{
		Dest:        buf,
		MatchFinder: new(blockMatcher),
		Encoder:     frameEncoder{},
		BlockSize:   65536,
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() >= len(data) {
		t.Fatalf("compressed %d bytes to %d", len(data), buf.Len())
	}
	got, err := io.ReadAll(snappy.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed output doesn't match")
	}
}

func TestMissingAndCorrupt(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	if _, err := s.Load("nothing"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing table: got %v", err)
	}

	if err := os.WriteFile(filepath.Join(s.Dir, "junk"+ext), []byte("not a snappy stream"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("junk"); err == nil {
		t.Fatal("loaded a corrupt file")
	}

	// A valid snappy stream that does not hold a table.
	buf := new(bytes.Buffer)
	sw := snappy.NewBufferedWriter(buf)
	sw.Write(bytes.Repeat([]byte{1}, 325))
	sw.Close()
	if err := os.WriteFile(filepath.Join(s.Dir, "wrong"+ext), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("wrong"); !errors.Is(err, huffman.ErrCorruptTable) {
		t.Fatalf("got %v, want ErrCorruptTable", err)
	}
}

func TestNames(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, ".hidden"} {
		if err := s.Save(name, testTable(t, 3)); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Save(%q): got %v, want ErrInvalidName", name, err)
		}
	}

	for _, name := range []string{"b", "a", "c"} {
		if err := s.Save(name, testTable(t, 4)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Remove("b"); err != nil {
		t.Fatal(err)
	}
	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Fatalf("List() = %q", names)
	}
}
