package zso

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/zisofs/ziso/pkg/zso/header"
	"github.com/zisofs/ziso/pkg/zso/index"
)

// encodeToFile encodes raw into a temp container file and returns its path
func encodeToFile(t *testing.T, raw []byte, opts Options) (string, *EncodeStats) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.zso")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	stats, err := Encode(f, bytes.NewReader(raw), int64(len(raw)), opts)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return path, stats
}

// randomBytes returns deterministic pseudo-random, incompressible data
func randomBytes(t *testing.T, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	b := make([]byte, size)
	rng.Read(b)
	return b
}

func TestEncodeLayout(t *testing.T) {
	raw := make([]byte, 4096) // two zero blocks, both compress well
	path, stats := encodeToFile(t, raw, Options{Align: 0})

	if stats.Blocks != 2 {
		t.Errorf("Expected 2 blocks, got %d", stats.Blocks)
	}
	if stats.CompressedBlocks != 2 {
		t.Errorf("Expected both blocks compressed, got %d", stats.CompressedBlocks)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read container: %v", err)
	}

	// header leads the file
	if !bytes.Equal(data[0:4], []byte("ZISO")) {
		t.Errorf("Expected ZISO magic at offset 0, got %q", data[0:4])
	}
	if int64(len(data)) != stats.BytesOut {
		t.Errorf("Expected %d byte container, got %d", stats.BytesOut, len(data))
	}

	// the table (3 entries) immediately follows the header, and the first
	// payload starts right after it
	firstEntry := index.Unpack(binary.LittleEndian.Uint32(data[header.Size:]))
	wantFirst := int64(header.Size) + 3*index.EntrySize
	if int64(firstEntry.Offset) != wantFirst {
		t.Errorf("Expected first payload at %d, got %d", wantFirst, firstEntry.Offset)
	}
	if !firstEntry.Compressed {
		t.Error("Expected first entry flagged compressed")
	}

	// offsets are monotonically non-decreasing through the sentinel
	prev := uint32(0)
	for i := 0; i < 3; i++ {
		e := index.Unpack(binary.LittleEndian.Uint32(data[header.Size+i*index.EntrySize:]))
		if e.Offset < prev {
			t.Errorf("Entry %d: offset %d after %d breaks monotonicity", i, e.Offset, prev)
		}
		prev = e.Offset
	}

	// the sentinel points at the container end
	sentinel := index.Unpack(binary.LittleEndian.Uint32(data[header.Size+2*index.EntrySize:]))
	if int64(sentinel.Offset) != int64(len(data)) {
		t.Errorf("Expected sentinel at %d, got %d", len(data), sentinel.Offset)
	}
	if sentinel.Compressed {
		t.Error("Sentinel must never be flagged compressed")
	}
}

func TestEncodeAlignedOffsets(t *testing.T) {
	// mixed content exercises both compressed and verbatim payloads
	raw := append(make([]byte, 2048), randomBytes(t, 2048)...)
	opts := Options{Align: 3, Pad: '#'}
	path, stats := encodeToFile(t, raw, opts)

	if stats.StoredBlocks == 0 {
		t.Fatal("Expected the random block to be stored verbatim")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read container: %v", err)
	}

	for i := 0; i < 3; i++ {
		e := index.Unpack(binary.LittleEndian.Uint32(data[header.Size+i*index.EntrySize:]))
		actual := int64(e.Offset) << 3
		if actual&7 != 0 {
			t.Errorf("Entry %d: actual offset %d not on an 8 byte boundary", i, actual)
		}
	}
}

func TestEncodeOverflowBeforeWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.zso")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	// an 8 GiB image cannot be indexed at shift 0; the failure must come
	// before any output is written
	_, err = Encode(f, bytes.NewReader(nil), 8<<30, Options{Align: 0})
	if !errors.Is(err, index.ErrOffsetTooLarge) {
		t.Fatalf("Expected ErrOffsetTooLarge, got %v", err)
	}

	stat, err := f.Stat()
	if err != nil {
		t.Fatalf("Failed to stat output: %v", err)
	}
	if stat.Size() != 0 {
		t.Errorf("Expected no bytes written on overflow, got %d", stat.Size())
	}
}

func TestEncodeAutoAlignment(t *testing.T) {
	// auto alignment picks shift 0 for small images
	raw := make([]byte, 4096)
	path, _ := encodeToFile(t, raw, Options{Align: AlignAuto})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open container: %v", err)
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	if r.Header().Align != 0 {
		t.Errorf("Expected auto alignment 0 for a small image, got %d", r.Header().Align)
	}

	// and a nonzero shift once 31 bits cannot cover the image
	if a := autoAlign(8<<30, 2048); a == 0 {
		t.Error("Expected a nonzero auto alignment for an 8 GiB image")
	} else if !fitsAlign(8<<30, 2048, a) {
		t.Errorf("Auto alignment %d does not fit an 8 GiB image", a)
	}
}

func TestEncodeShortSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.zso")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	_, err = Encode(f, bytes.NewReader(make([]byte, 1000)), 4096, Options{})
	if err == nil {
		t.Error("Expected error when the source delivers fewer bytes than promised")
	}
}

func TestEncodeInvalidOptions(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "image.zso")
	f, err := os.Create(dst)
	if err != nil {
		t.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	raw := make([]byte, 2048)

	_, err = Encode(f, bytes.NewReader(raw), int64(len(raw)), Options{Align: 7})
	if !errors.Is(err, header.ErrInvalidAlignment) {
		t.Errorf("Expected ErrInvalidAlignment for shift 7, got %v", err)
	}

	_, err = Encode(f, bytes.NewReader(raw), int64(len(raw)), Options{BlockSize: 1000})
	if !errors.Is(err, header.ErrInvalidBlockSize) {
		t.Errorf("Expected ErrInvalidBlockSize for 1000, got %v", err)
	}

	_, err = Encode(f, bytes.NewReader(raw), int64(len(raw)), Options{Magic: 0x12345678})
	if !errors.Is(err, header.ErrBadMagic) {
		t.Errorf("Expected ErrBadMagic, got %v", err)
	}
}

func TestEncodeFile(t *testing.T) {
	tempDir := t.TempDir()
	srcPath := filepath.Join(tempDir, "image.iso")
	dstPath := filepath.Join(tempDir, "image.zso")

	if err := os.WriteFile(srcPath, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("Failed to write source image: %v", err)
	}

	stats, err := EncodeFile(srcPath, dstPath, Options{})
	if err != nil {
		t.Fatalf("Failed to encode file: %v", err)
	}
	if stats.BytesIn != 4096 {
		t.Errorf("Expected 4096 bytes in, got %d", stats.BytesIn)
	}

	stat, err := os.Stat(dstPath)
	if err != nil {
		t.Fatalf("Output file missing after encode: %v", err)
	}
	if stat.Size() != stats.BytesOut {
		t.Errorf("Expected %d byte output, got %d", stats.BytesOut, stat.Size())
	}

	// the temp file is gone after finalization
	tmpPath := filepath.Join(tempDir, ".image.zso.tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("Temp file %s still exists after encode", tmpPath)
	}
}

func TestEncodeFileCleanupOnError(t *testing.T) {
	tempDir := t.TempDir()
	srcPath := filepath.Join(tempDir, "image.iso")
	dstPath := filepath.Join(tempDir, "image.zso")

	if err := os.WriteFile(srcPath, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("Failed to write source image: %v", err)
	}

	if _, err := EncodeFile(srcPath, dstPath, Options{Align: 7}); err == nil {
		t.Fatal("Expected encode to fail with an invalid alignment")
	}

	if _, err := os.Stat(dstPath); !os.IsNotExist(err) {
		t.Errorf("Output file %s exists after failed encode", dstPath)
	}
	tmpPath := filepath.Join(tempDir, ".image.zso.tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("Temp file %s still exists after failed encode", tmpPath)
	}
}
