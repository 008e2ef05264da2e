// Package header implements the fixed 24-byte container header shared by
// the ZSO and CSO block-compressed image formats.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Size is the fixed size of the header in bytes
	Size = 24
	// MagicZSO identifies an LZ4 block-compressed container ("ZISO" in LE)
	MagicZSO = uint32(0x4F53495A)
	// MagicCSO identifies a deflate block-compressed container ("CISO" in LE)
	MagicCSO = uint32(0x4F534943)
	// CurrentVersion is the newest format version this implementation reads
	CurrentVersion = uint8(1)
	// MaxAlign is the largest supported alignment shift. With 31-bit stored
	// offsets a shift of 6 addresses 128 GiB, well past any optical image.
	MaxAlign = uint8(6)
)

var (
	// ErrBadMagic indicates the file does not start with a known magic tag
	ErrBadMagic = errors.New("unrecognized container magic")
	// ErrUnsupportedVersion indicates a format version newer than this implementation
	ErrUnsupportedVersion = errors.New("unsupported format version")
	// ErrInvalidBlockSize indicates a zero or non-power-of-two block size
	ErrInvalidBlockSize = errors.New("invalid block size")
	// ErrInvalidAlignment indicates an alignment shift beyond MaxAlign
	ErrInvalidAlignment = errors.New("invalid alignment shift")
	// ErrInvalidHeaderSize indicates a header size field that is not 24
	ErrInvalidHeaderSize = errors.New("invalid header size")
	// ErrInvalidTotalSize indicates a zero total uncompressed size
	ErrInvalidTotalSize = errors.New("invalid total size")
)

// Header describes a block-compressed container file
type Header struct {
	// Magic tag selecting the block transform (MagicZSO or MagicCSO)
	Magic uint32
	// TotalBytes is the uncompressed image size
	TotalBytes uint64
	// BlockSize is the raw bytes per block, a power of two
	BlockSize uint32
	// Version of the file format
	Version uint8
	// Align is the number of low bits guaranteed zero in payload offsets
	Align uint8
}

// New creates a validated header for an encode
func New(magic uint32, totalBytes uint64, blockSize uint32, align uint8) (*Header, error) {
	h := &Header{
		Magic:      magic,
		TotalBytes: totalBytes,
		BlockSize:  blockSize,
		Version:    CurrentVersion,
		Align:      align,
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks every field against the format's constraints
func (h *Header) Validate() error {
	if h.Magic != MagicZSO && h.Magic != MagicCSO {
		return fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.BlockSize == 0 || h.BlockSize&(h.BlockSize-1) != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, h.BlockSize)
	}
	if h.Align > MaxAlign {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidAlignment, h.Align, MaxAlign)
	}
	if h.TotalBytes == 0 {
		return ErrInvalidTotalSize
	}
	return nil
}

// BlockCount returns the number of blocks, counting a final partial block
func (h *Header) BlockCount() uint32 {
	return uint32((h.TotalBytes + uint64(h.BlockSize) - 1) / uint64(h.BlockSize))
}

// BlockLen returns the raw length of block i, shorter for a trailing partial block
func (h *Header) BlockLen(i uint32) int {
	start := uint64(i) * uint64(h.BlockSize)
	if remain := h.TotalBytes - start; remain < uint64(h.BlockSize) {
		return int(remain)
	}
	return int(h.BlockSize)
}

// Encode serializes the header to a fixed-size byte slice
func (h *Header) Encode() []byte {
	result := make([]byte, Size)

	binary.LittleEndian.PutUint32(result[0:4], h.Magic)
	binary.LittleEndian.PutUint32(result[4:8], Size)
	binary.LittleEndian.PutUint64(result[8:16], h.TotalBytes)
	binary.LittleEndian.PutUint32(result[16:20], h.BlockSize)
	result[20] = h.Version
	result[21] = h.Align
	// result[22:24] reserved, zero

	return result
}

// WriteTo writes the header to an io.Writer
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Encode())
	return int64(n), err
}

// Decode parses and validates a header from a byte slice
func Decode(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("header data too small: %d bytes, expected %d",
			len(data), Size)
	}

	if size := binary.LittleEndian.Uint32(data[4:8]); size != Size {
		return nil, fmt.Errorf("%w: %d, expected %d", ErrInvalidHeaderSize, size, Size)
	}

	h := &Header{
		Magic:      binary.LittleEndian.Uint32(data[0:4]),
		TotalBytes: binary.LittleEndian.Uint64(data[8:16]),
		BlockSize:  binary.LittleEndian.Uint32(data[16:20]),
		Version:    data[20],
		Align:      data[21],
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}

	return h, nil
}

// ReadFrom reads and parses a header from an io.Reader
func ReadFrom(r io.Reader) (*Header, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return Decode(buf)
}
