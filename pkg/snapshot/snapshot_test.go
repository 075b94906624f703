package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/config"
	"github.com/KevoDB/slicekv/pkg/engine"
	"github.com/KevoDB/slicekv/pkg/engine/interfaces"
	"github.com/KevoDB/slicekv/pkg/skipindex"
)

// memStore is a sorted in-memory Source and Sink
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Write(key, value []byte) error {
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Range(lower, upper []byte, visit interfaces.Visitor) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if len(lower) > 0 && k < string(lower) {
			continue
		}
		if len(upper) > 0 && k >= string(upper) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !visit([]byte(k), m.data[k]) {
			break
		}
	}
	return nil
}

func fill(m *memStore, n int) {
	for i := 0; i < n; i++ {
		m.data[fmt.Sprintf("key-%05d", i)] = []byte(fmt.Sprintf("value-%d", i*i))
	}
}

func TestSnapshot_RoundTripCodecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecSnappy} {
		t.Run(codec.String(), func(t *testing.T) {
			src := newMemStore()
			fill(src, 500)
			src.data["empty"] = nil

			var buf bytes.Buffer
			exp, err := Export(src, &buf, Options{Codec: codec})
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if exp.Records != 501 {
				t.Errorf("Expected 501 exported records, got %d", exp.Records)
			}

			dst := newMemStore()
			imp, err := Import(dst, &buf)
			if err != nil {
				t.Fatalf("Import failed: %v", err)
			}
			if imp.Records != exp.Records || imp.Digest != exp.Digest || imp.Codec != codec {
				t.Errorf("Import summary %+v does not match export %+v", imp, exp)
			}
			if imp.Bytes != exp.Bytes {
				t.Errorf("Expected %d bytes imported, got %d", exp.Bytes, imp.Bytes)
			}
			if len(dst.data) != len(src.data) {
				t.Fatalf("Expected %d keys, got %d", len(src.data), len(dst.data))
			}
			for k, v := range src.data {
				if !bytes.Equal(dst.data[k], v) {
					t.Errorf("Key %q: expected %q, got %q", k, v, dst.data[k])
				}
			}
		})
	}
}

func TestSnapshot_Bounds(t *testing.T) {
	src := newMemStore()
	fill(src, 100)

	var buf bytes.Buffer
	sum, err := Export(src, &buf, Options{
		Codec: CodecZstd,
		Lower: []byte("key-00010"),
		Upper: []byte("key-00020"),
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if sum.Records != 10 {
		t.Errorf("Expected 10 records, got %d", sum.Records)
	}

	dst := newMemStore()
	if _, err := Import(dst, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if _, ok := dst.data["key-00010"]; !ok {
		t.Error("Lower bound key missing")
	}
	if _, ok := dst.data["key-00020"]; ok {
		t.Error("Upper bound key should be excluded")
	}
}

func TestSnapshot_Empty(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Export(newMemStore(), &buf, Options{Codec: CodecSnappy}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	sum, err := Import(newMemStore(), &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if sum.Records != 0 {
		t.Errorf("Expected 0 records, got %d", sum.Records)
	}
}

func TestSnapshot_Corruption(t *testing.T) {
	src := newMemStore()
	fill(src, 20)

	var buf bytes.Buffer
	if _, err := Export(src, &buf, Options{Codec: CodecNone}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { b[4] = 99; return b }},
		{"flipped value", func(b []byte) []byte {
			i := bytes.Index(b, []byte("value-"))
			b[i] ^= 0xff
			return b
		}},
		{"truncated", func(b []byte) []byte { return b[:len(b)/2] }},
		{"bad digest", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
		{"bad count", func(b []byte) []byte { b[len(b)-16] ^= 0x01; return b }},
		{"short header", func(b []byte) []byte { return b[:3] }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), good...))
			_, err := Import(newMemStore(), bytes.NewReader(data))
			if !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("Expected ErrCorruptSnapshot, got %v", err)
			}
		})
	}
}

func TestSnapshot_UnsupportedCodec(t *testing.T) {
	if _, err := Export(newMemStore(), &bytes.Buffer{}, Options{Codec: Codec(9)}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("Expected ErrUnsupportedCodec from Export, got %v", err)
	}

	data := []byte{'S', 'K', 'S', 'N', version, 9}
	if _, err := Import(newMemStore(), bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("Expected ErrUnsupportedCodec from Import, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": CodecZstd, "zstd": CodecZstd, "snappy": CodecSnappy, "none": CodecNone} {
		got, err := ParseCodec(name)
		if err != nil || got != want {
			t.Errorf("ParseCodec(%q) = %v, %v; expected %v", name, got, err, want)
		}
	}
	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("Expected ErrUnsupportedCodec, got %v", err)
	}
}

// limitedStore accepts values up to max bytes
type limitedStore struct {
	*memStore
	max int
}

func (l limitedStore) MaxValueSize() int { return l.max }

func TestSnapshot_ForgedValueLength(t *testing.T) {
	var data []byte
	data = append(data, 'S', 'K', 'S', 'N', version, byte(CodecNone))
	data = binary.AppendUvarint(data, 1)
	data = append(data, 'k')
	data = binary.AppendUvarint(data, 1<<31)
	data = append(data, "only a few bytes follow"...)

	dst := newMemStore()
	_, err := Import(dst, bytes.NewReader(data))
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("Expected ErrCorruptSnapshot, got %v", err)
	}
	if len(dst.data) != 0 {
		t.Errorf("Expected no records imported, got %d", len(dst.data))
	}
}

func TestSnapshot_ValueLimit(t *testing.T) {
	src := newMemStore()
	src.data["small"] = []byte("1234")
	src.data["tiny"] = []byte("12")
	src.data["zlarge"] = []byte("123456789")

	var buf bytes.Buffer
	if _, err := Export(src, &buf, Options{Codec: CodecNone}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := limitedStore{memStore: newMemStore(), max: 4}
	sum, err := Import(dst, bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("Expected ErrCorruptSnapshot for an oversized value, got %v", err)
	}
	if sum.Records != 2 {
		t.Errorf("Expected the 2 records before the oversized one, got %d", sum.Records)
	}
	if _, ok := dst.data["zlarge"]; ok {
		t.Error("Oversized value should not be written")
	}

	// At the limit every record fits
	if _, err := Import(limitedStore{memStore: newMemStore(), max: 9}, bytes.NewReader(buf.Bytes())); err != nil {
		t.Errorf("Import within the limit failed: %v", err)
	}
}

func TestSnapshot_LargeValuesReadInChunks(t *testing.T) {
	src := newMemStore()
	big := bytes.Repeat([]byte("0123456789abcdef"), (3*readChunk)/16+5)
	src.data["big"] = big
	src.data["small"] = []byte("s")

	var buf bytes.Buffer
	if _, err := Export(src, &buf, Options{Codec: CodecZstd}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	dst := newMemStore()
	if _, err := Import(dst, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !bytes.Equal(dst.data["big"], big) || string(dst.data["small"]) != "s" {
		t.Error("Values spanning several read chunks were not restored intact")
	}
}

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ShardCount = 16
	cfg.GenerationSize = 4096
	cfg.IndexInitialSize = int64(skipindex.MinRegionSize)
	cfg.SyncOnClose = false

	e, err := engine.Open(t.TempDir(), engine.WithConfig(cfg), engine.WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSnapshot_EngineToEngine(t *testing.T) {
	src := openEngine(t)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := src.Write(key, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	var buf bytes.Buffer
	exp, err := Export(src, &buf, Options{Codec: CodecZstd})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exp.Records != 300 {
		t.Fatalf("Expected 300 records, got %d", exp.Records)
	}

	dst := openEngine(t)
	if dst.MaxValueSize() != 4096 {
		t.Errorf("Expected the engine to cap values at its generation size, got %d", dst.MaxValueSize())
	}
	if _, err := Import(dst, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		v, err := dst.Read(key)
		if err != nil || string(v) != fmt.Sprintf("v%d", i) {
			t.Errorf("Read(%s) = %q, %v", key, v, err)
		}
	}
}
