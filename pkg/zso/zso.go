// Package zso converts between raw disc images (ISO) and block-compressed
// ZSO/CSO containers. A container is a fixed header, a packed block index
// table, and a payload region of independently compressed or verbatim
// blocks; header and table always precede every payload byte so a decoder
// can bootstrap with one bounded read.
package zso

import (
	"fmt"

	"github.com/zisofs/ziso/pkg/zso/header"
	"github.com/zisofs/ziso/pkg/zso/index"
	"github.com/zisofs/ziso/pkg/zso/transform"
)

const (
	// DefaultBlockSize matches the 2048-byte sector size of optical media
	DefaultBlockSize = uint32(2048)
	// DefaultPad is the filler byte for alignment gaps between payloads
	DefaultPad = byte('X')
	// AlignAuto selects the smallest alignment shift that can represent
	// the image's offsets
	AlignAuto = -1
)

// Options configures an encode
type Options struct {
	// Magic selects the container flavor: header.MagicZSO (LZ4 blocks) or
	// header.MagicCSO (deflate blocks)
	Magic uint32
	// BlockSize is the raw bytes per block, a power of two
	BlockSize uint32
	// Align is the alignment shift, or AlignAuto
	Align int
	// Level is the compression level, 0 for the method default
	Level int
	// Threshold is the verbatim-storage cutoff percent (1..100)
	Threshold int
	// Pad is the alignment filler byte
	Pad byte
	// Progress, when non-nil, is called after each block is written
	Progress func(block, total uint32)
}

// DefaultOptions returns the standard ZSO encode configuration
func DefaultOptions() Options {
	return Options{
		Magic:     header.MagicZSO,
		BlockSize: DefaultBlockSize,
		Align:     AlignAuto,
		Level:     0,
		Threshold: transform.DefaultThreshold,
		Pad:       DefaultPad,
	}
}

// MethodForMagic maps a container magic to its block transform method
func MethodForMagic(magic uint32) (transform.Method, error) {
	switch magic {
	case header.MagicZSO:
		return transform.MethodLZ4, nil
	case header.MagicCSO:
		return transform.MethodDeflate, nil
	default:
		return 0, fmt.Errorf("%w: 0x%08x", header.ErrBadMagic, magic)
	}
}

// EncodeStats reports the outcome of one encode
type EncodeStats struct {
	// Blocks is the total number of blocks processed
	Blocks uint32
	// CompressedBlocks is how many blocks were stored compressed
	CompressedBlocks uint32
	// StoredBlocks is how many blocks fell back to verbatim storage
	StoredBlocks uint32
	// BytesIn is the raw image size
	BytesIn int64
	// BytesOut is the final container size
	BytesOut int64
}

// Ratio returns the container size as a fraction of the raw size
func (s *EncodeStats) Ratio() float64 {
	if s.BytesIn == 0 {
		return 0
	}
	return float64(s.BytesOut) / float64(s.BytesIn)
}

// DecodeStats reports the outcome of one decode
type DecodeStats struct {
	// Blocks is the total number of blocks processed
	Blocks uint32
	// CompressedBlocks is how many blocks were stored compressed
	CompressedBlocks uint32
	// BytesIn is the container size consumed (header, table and payloads)
	BytesIn int64
	// BytesOut is the reconstructed raw size
	BytesOut int64
}

// fitsAlign reports whether every offset an encode could produce is
// representable at the given shift. The worst case assumes no block
// compresses (the fallback bound caps each payload at the block size) and
// maximal padding before each payload and the sentinel.
func fitsAlign(totalSize int64, blockSize uint32, align uint8) bool {
	blockCount := (totalSize + int64(blockSize) - 1) / int64(blockSize)
	tableSize := (blockCount + 1) * index.EntrySize
	pad := int64(1)<<align - 1
	worstEnd := int64(header.Size) + tableSize + totalSize + (blockCount+1)*pad
	return worstEnd>>align <= int64(index.MaxOffset)
}

// autoAlign returns the smallest shift that can represent the image
func autoAlign(totalSize int64, blockSize uint32) uint8 {
	for a := uint8(0); a <= header.MaxAlign; a++ {
		if fitsAlign(totalSize, blockSize, a) {
			return a
		}
	}
	return header.MaxAlign
}
