package zso

import (
	"fmt"
	"io"
	"os"

	"github.com/zisofs/ziso/pkg/zso/header"
	"github.com/zisofs/ziso/pkg/zso/index"
	"github.com/zisofs/ziso/pkg/zso/transform"
)

// Reader provides random access to the blocks of an open container. The
// header and index table are read once up front; blocks are fetched on
// demand. Not safe for concurrent use, the underlying stream position is
// shared.
type Reader struct {
	src    io.ReadSeeker
	hdr    *header.Header
	table  *index.Table
	method transform.Method
}

// NewReader reads and validates the container head (header, then index
// table) from the start of src
func NewReader(src io.ReadSeeker) (*Reader, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to container start: %w", err)
	}

	hdr, err := header.ReadFrom(src)
	if err != nil {
		return nil, err
	}

	method, err := MethodForMagic(hdr.Magic)
	if err != nil {
		return nil, err
	}

	table, err := index.ReadFrom(src, hdr.BlockCount(), hdr.Align)
	if err != nil {
		return nil, err
	}

	return &Reader{
		src:    src,
		hdr:    hdr,
		table:  table,
		method: method,
	}, nil
}

// Header returns the parsed container header
func (r *Reader) Header() *header.Header {
	return r.hdr
}

// Method returns the block transform method the container uses
func (r *Reader) Method() transform.Method {
	return r.method
}

// ReadBlock fetches and restores raw block i. The returned slice has the
// block's true length, shorter than the block size only for a trailing
// partial block.
func (r *Reader) ReadBlock(i uint32) ([]byte, bool, error) {
	start, end, compressed, err := r.table.Lookup(i)
	if err != nil {
		return nil, false, err
	}

	expected := r.hdr.BlockLen(i)
	readLen := end - start
	if !compressed {
		// A verbatim range may trail alignment padding; only the true
		// block length is ever read.
		if readLen >= int64(expected) {
			readLen = int64(expected)
		}
	}
	if readLen <= 0 || readLen > int64(r.hdr.BlockSize)+int64(1)<<r.hdr.Align {
		return nil, false, fmt.Errorf("%w: block %d has invalid range [%d, %d)",
			transform.ErrCorruptStream, i, start, end)
	}

	if _, err := r.src.Seek(start, io.SeekStart); err != nil {
		return nil, false, fmt.Errorf("failed to seek to block %d: %w", i, err)
	}
	payload := make([]byte, readLen)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return nil, false, fmt.Errorf("failed to read block %d: %w", i, err)
	}

	raw, err := transform.Decompress(r.method, payload, compressed, expected)
	if err != nil {
		return nil, false, fmt.Errorf("failed to restore block %d: %w", i, err)
	}
	return raw, compressed, nil
}

// Decode converts the container read from src back into the raw image,
// written to dst
func Decode(dst io.Writer, src io.ReadSeeker) (*DecodeStats, error) {
	r, err := NewReader(src)
	if err != nil {
		return nil, err
	}

	blockCount := r.hdr.BlockCount()
	stats := &DecodeStats{Blocks: blockCount}

	for i := uint32(0); i < blockCount; i++ {
		raw, compressed, err := r.ReadBlock(i)
		if err != nil {
			return nil, err
		}

		n, err := dst.Write(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to write block %d: %w", i, err)
		}
		if n != len(raw) {
			return nil, fmt.Errorf("wrote incomplete block %d: %d of %d bytes",
				i, n, len(raw))
		}

		stats.BytesOut += int64(n)
		if compressed {
			stats.CompressedBlocks++
		}
		if i == blockCount-1 {
			_, end, _, _ := r.table.Lookup(i)
			stats.BytesIn = end
		}
	}

	if stats.BytesOut != int64(r.hdr.TotalBytes) {
		return nil, fmt.Errorf("%w: restored %d bytes, header promises %d",
			transform.ErrCorruptStream, stats.BytesOut, r.hdr.TotalBytes)
	}
	return stats, nil
}

// DecodeFile converts the container at srcPath into a raw image at
// dstPath, writing through a temp file so failures leave no partial output
func DecodeFile(srcPath, dstPath string) (*DecodeStats, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer src.Close()

	fm, err := newFileManager(dstPath)
	if err != nil {
		return nil, err
	}

	stats, err := Decode(fm.file, src)
	if err != nil {
		fm.Cleanup()
		return nil, err
	}

	if err := fm.Finalize(); err != nil {
		fm.Cleanup()
		return nil, err
	}
	return stats, nil
}
