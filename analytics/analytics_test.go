package analytics

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/andybalholm/qpl/bitstream"
)

func pack(values []uint32, width uint, order bitstream.Order) []byte {
	w := bitstream.NewWriter(order)
	w.SetAppend(nil)
	for _, v := range values {
		w.PutBits(v, width)
	}
	w.Flush()
	return w.Bytes()
}

func randomValues(rng *rand.Rand, n int, width uint) []uint32 {
	values := make([]uint32, n)
	for i := range values {
		values[i] = uint32(rng.Uint64() & (1<<width - 1))
	}
	return values
}

// runAll feeds src to p inStep bytes at a time, with outStep bytes of output
// room per call.
func runAll(p *Processor, src []byte, inStep, outStep int) ([]byte, error) {
	var out []byte
	buf := make([]byte, outStep)
	for {
		k := len(src)
		if inStep > 0 && k > inStep {
			k = inStep
		}
		n, c, err := p.Process(buf, src[:k], k == len(src))
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

func mustProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	p, err := NewProcessor(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func naiveAggregates(values []uint32) Aggregates {
	a := NewAggregates()
	for _, v := range values {
		if v < a.Min {
			a.Min = v
		}
		if v > a.Max {
			a.Max = v
		}
		a.Sum += v
	}
	return a
}

func TestScanIndex(t *testing.T) {
	src := make([]byte, 250)
	for i := range src {
		src[i] = byte(i)
	}
	p := mustProcessor(t, Config{
		Op:          Scan{Cmp: Equal, Low: 48},
		InputWidth:  8,
		OutputWidth: Width32,
		NumElements: len(src),
	})
	out, err := runAll(p, src, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("output is %d bytes, want 4", len(out))
	}
	idx := binary.LittleEndian.Uint32(out)
	if src[idx] != 48 {
		t.Fatalf("source[%d] = %d, want 48", idx, src[idx])
	}
	agg := p.Aggregates()
	if agg.Min != 0 || agg.Max != 249 || agg.Sum != 249*250/2 || !agg.Matched || agg.Index != 48 {
		t.Fatalf("aggregates %+v", agg)
	}
}

func TestScanBitVector(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, c := range []struct {
		cmp       Comparison
		low, high uint32
	}{
		{Equal, 3, 0},
		{NotEqual, 3, 0},
		{Less, 5, 0},
		{LessEqual, 5, 0},
		{Greater, 2, 0},
		{GreaterEqual, 2, 0},
		{Range, 2, 5},
		{NotRange, 2, 5},
	} {
		values := randomValues(rng, 1000, 3)
		var want []uint32
		first := -1
		for i, v := range values {
			bit := uint32(0)
			if c.cmp.match(v, c.low, c.high) {
				bit = 1
				if first < 0 {
					first = i
				}
			}
			want = append(want, bit)
		}
		p := mustProcessor(t, Config{
			Op:          Scan{Cmp: c.cmp, Low: c.low, High: c.high},
			InputWidth:  3,
			NumElements: len(values),
		})
		out, err := runAll(p, pack(values, 3, bitstream.LSBFirst), 0, 1000)
		if err != nil {
			t.Fatalf("%v: %v", c.cmp, err)
		}
		if !bytes.Equal(out, pack(want, 1, bitstream.LSBFirst)) {
			t.Fatalf("%v: wrong bit vector", c.cmp)
		}
		agg := p.Aggregates()
		if agg.Matched != (first >= 0) || (first >= 0 && agg.Index != uint32(first)) {
			t.Fatalf("%v: first match %d, aggregates %+v", c.cmp, first, agg)
		}
		if p.LastBitOffset() != 1000%8 {
			t.Fatalf("%v: last bit offset %d", c.cmp, p.LastBitOffset())
		}
	}
}

func TestExtract(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	values := randomValues(rng, 500, 11)
	p := mustProcessor(t, Config{
		Op:          Extract{Low: 100, High: 199},
		Format:      BigEndian,
		InputWidth:  11,
		OutputWidth: Width16,
		NumElements: len(values),
	})
	out, err := runAll(p, pack(values, 11, bitstream.MSBFirst), 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, pack(values[100:200], 16, bitstream.LSBFirst)) {
		t.Fatal("wrong extract output")
	}
	if got, want := p.Aggregates(), naiveAggregates(values); got != want {
		t.Fatalf("aggregates %+v, want %+v", got, want)
	}
}

func TestSelectExpand(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := randomValues(rng, 300, 7)
	mask := make([]byte, 300/8+1)
	rng.Read(mask)

	var selected []uint32
	for i, v := range values {
		if maskBit(mask, i) {
			selected = append(selected, v)
		}
	}
	p := mustProcessor(t, Config{
		Op:          Select{Mask: mask},
		InputWidth:  7,
		NumElements: len(values),
	})
	out, err := runAll(p, pack(values, 7, bitstream.LSBFirst), 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, pack(selected, 7, bitstream.LSBFirst)) {
		t.Fatal("wrong select output")
	}

	// Expanding the selected elements with the same mask gives back the
	// original stream with zeros in the unselected places.
	var expanded []uint32
	for i, v := range values {
		if !maskBit(mask, i) {
			v = 0
		}
		expanded = append(expanded, v)
	}
	p = mustProcessor(t, Config{
		Op:          Expand{Mask: mask},
		InputWidth:  7,
		NumElements: len(values),
	})
	out, err = runAll(p, pack(selected, 7, bitstream.LSBFirst), 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, pack(expanded, 7, bitstream.LSBFirst)) {
		t.Fatal("wrong expand output")
	}
	if got, want := p.Aggregates(), naiveAggregates(selected); got != want {
		t.Fatalf("expand aggregates %+v, want %+v", got, want)
	}
}

func TestAggregatesMatchNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for width := uint(1); width <= 32; width++ {
		for _, format := range []Format{LittleEndian, BigEndian} {
			values := randomValues(rng, 200+rng.Intn(200), width)
			order := bitstream.LSBFirst
			if format == BigEndian {
				order = bitstream.MSBFirst
			}
			p := mustProcessor(t, Config{
				Op:          Scan{Cmp: GreaterEqual, Low: values[0]},
				Format:      format,
				InputWidth:  int(width),
				NumElements: len(values),
			})
			if _, err := runAll(p, pack(values, width, order), 0, 1000); err != nil {
				t.Fatalf("width %d %v: %v", width, format, err)
			}
			want := naiveAggregates(values)
			want.Matched = true
			if got := p.Aggregates(); got != want {
				t.Fatalf("width %d %v: aggregates %+v, want %+v", width, format, got, want)
			}
		}
	}
}

func TestPRLE(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var values []uint32
	for len(values) < 5000 {
		if rng.Intn(3) == 0 {
			v := uint32(rng.Intn(1 << 13))
			for n := rng.Intn(100) + 1; n > 0; n-- {
				values = append(values, v)
			}
		} else {
			values = append(values, uint32(rng.Intn(1<<13)))
		}
	}
	src, err := AppendPRLE(nil, values, 13)
	if err != nil {
		t.Fatal(err)
	}
	if len(src) >= len(pack(values, 13, bitstream.LSBFirst)) {
		t.Fatalf("PRLE stream of %d bytes does not beat bit packing", len(src))
	}

	for _, step := range []struct{ in, out int }{{0, 1 << 16}, {1, 1 << 16}, {0, 5}, {3, 7}} {
		p := mustProcessor(t, Config{
			Op:          Extract{Low: 0, High: uint32(len(values))},
			Format:      PRLE,
			NumElements: len(values),
		})
		out, err := runAll(p, src, step.in, step.out)
		if err != nil {
			t.Fatalf("steps %v: %v", step, err)
		}
		if !bytes.Equal(out, pack(values, 13, bitstream.LSBFirst)) {
			t.Fatalf("steps %v: wrong output", step)
		}
		if got, want := p.Aggregates(), naiveAggregates(values); got != want {
			t.Fatalf("steps %v: aggregates %+v, want %+v", step, got, want)
		}
	}
}

func TestChunkedEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	values := randomValues(rng, 3000, 9)
	src := pack(values, 9, bitstream.LSBFirst)
	mask := make([]byte, len(values)/8+1)
	rng.Read(mask)

	for _, op := range []Op{
		Scan{Cmp: Range, Low: 100, High: 300},
		Extract{Low: 10, High: 2000},
		Select{Mask: mask},
	} {
		cfg := Config{Op: op, InputWidth: 9, NumElements: len(values), ChecksumOutput: true}
		one := mustProcessor(t, cfg)
		want, err := runAll(one, src, 0, 1<<16)
		if err != nil {
			t.Fatal(err)
		}
		for _, step := range []struct{ in, out int }{{1, 1 << 16}, {0, 5}, {17, 6}} {
			p := mustProcessor(t, cfg)
			got, err := runAll(p, src, step.in, step.out)
			if err != nil {
				t.Fatalf("%T steps %v: %v", op, step, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("%T steps %v: output differs from a single call", op, step)
			}
			if p.Aggregates() != one.Aggregates() || p.Checksums() != one.Checksums() {
				t.Fatalf("%T steps %v: results differ from a single call", op, step)
			}
			if p.LastBitOffset() != one.LastBitOffset() {
				t.Fatalf("%T steps %v: last bit offset differs", op, step)
			}
		}
	}
}

func TestChecksums(t *testing.T) {
	src := []byte{0x01, 0x02, 0x10, 0x20, 0xff}
	p := mustProcessor(t, Config{
		Op:             Extract{Low: 0, High: 10},
		InputWidth:     8,
		NumElements:    len(src),
		ChecksumOutput: true,
	})
	out, err := runAll(p, src, 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	sums := p.Checksums()
	if sums.CRC32 != crc32.ChecksumIEEE(src) {
		t.Fatalf("CRC32 = %#x, want %#x", sums.CRC32, crc32.ChecksumIEEE(src))
	}
	if want := uint32(0x0201 ^ 0x2010 ^ 0x00ff); sums.XOR != want {
		t.Fatalf("XOR = %#x, want %#x", sums.XOR, want)
	}
	if sums.OutputCRC32 != crc32.ChecksumIEEE(out) {
		t.Fatalf("output CRC32 = %#x, want %#x", sums.OutputCRC32, crc32.ChecksumIEEE(out))
	}
}

func TestOutputWidthOverflow(t *testing.T) {
	values := []uint32{1, 2, 300, 4}
	p := mustProcessor(t, Config{
		Op:          Extract{Low: 0, High: 3},
		InputWidth:  9,
		OutputWidth: Width8,
		NumElements: len(values),
	})
	if _, err := runAll(p, pack(values, 9, bitstream.LSBFirst), 0, 100); !errors.Is(err, ErrOutputWidthOverflow) {
		t.Fatalf("got %v, want ErrOutputWidthOverflow", err)
	}

	src := make([]byte, 300)
	p = mustProcessor(t, Config{
		Op:          Scan{Cmp: Equal, Low: 0},
		InputWidth:  8,
		OutputWidth: Width8,
		NumElements: len(src),
	})
	out, err := runAll(p, src, 0, 1000)
	if !errors.Is(err, ErrOutputWidthOverflow) {
		t.Fatalf("got %v, want ErrOutputWidthOverflow", err)
	}
	if len(out) != 256 {
		t.Fatalf("wrote %d indices before the overflow, want 256", len(out))
	}
}

func TestTruncated(t *testing.T) {
	p := mustProcessor(t, Config{
		Op:          Scan{Cmp: Equal},
		InputWidth:  8,
		NumElements: 10,
	})
	if _, _, err := p.Process(make([]byte, 10), make([]byte, 9), true); !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Op: Scan{}, InputWidth: 0, NumElements: 1},
		{Op: Scan{}, InputWidth: 33, NumElements: 1},
		{Op: Scan{}, InputWidth: 8, OutputWidth: 12},
		{Op: Scan{Cmp: 99}, InputWidth: 8},
		{Op: Select{Mask: []byte{0xff}}, InputWidth: 8, NumElements: 9},
		{InputWidth: 8},
	} {
		if _, err := NewProcessor(cfg); err == nil {
			t.Fatalf("NewProcessor(%+v) succeeded", cfg)
		}
	}
}

func TestOutputBigEndian(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	values := randomValues(rng, 101, 5)
	p := mustProcessor(t, Config{
		Op:              Extract{Low: 0, High: uint32(len(values))},
		InputWidth:      5,
		NumElements:     len(values),
		OutputBigEndian: true,
	})
	out, err := runAll(p, pack(values, 5, bitstream.LSBFirst), 7, 3)
	if err != nil {
		t.Fatal(err)
	}
	if want := pack(values, 5, bitstream.MSBFirst); !bytes.Equal(out, want) {
		t.Fatalf("got %x, want %x", out, want)
	}
	if got, want := p.LastBitOffset(), len(values)*5%8; got != want {
		t.Fatalf("LastBitOffset() = %d, want %d", got, want)
	}
}

func TestOutputTooSmall(t *testing.T) {
	src := make([]byte, 100)
	src[10], src[50] = 5, 5
	p := mustProcessor(t, Config{
		Op:          Scan{Cmp: Equal, Low: 5},
		InputWidth:  8,
		OutputWidth: Width32,
		NumElements: len(src),
	})

	small := make([]byte, 3)
	n, c, err := p.Process(small, src, true)
	if err != ErrMoreOutput || n != 0 || c != 10 {
		t.Fatalf("first call: n=%d consumed=%d err=%v", n, c, err)
	}
	src = src[c:]

	// No element fits, so another call with the same buffer can't move.
	n, c, err = p.Process(small, src, true)
	if err != ErrOutputTooSmall || n != 0 || c != 0 {
		t.Fatalf("second call: n=%d consumed=%d err=%v", n, c, err)
	}

	out, err := runAll(p, src, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := binary.LittleEndian.AppendUint32(nil, 10)
	want = binary.LittleEndian.AppendUint32(want, 50)
	if !bytes.Equal(out, want) {
		t.Fatalf("got %x, want %x", out, want)
	}
}
