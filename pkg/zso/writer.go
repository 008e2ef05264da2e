package zso

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zisofs/ziso/pkg/zso/header"
	"github.com/zisofs/ziso/pkg/zso/index"
	"github.com/zisofs/ziso/pkg/zso/transform"
)

// fileManager handles temp-file creation and atomic finalization for
// conversion outputs, so an aborted conversion never leaves a partial file
// at the destination path.
type fileManager struct {
	path    string
	tmpPath string
	file    *os.File
}

// newFileManager creates a temporary output file next to the final path
func newFileManager(path string) (*fileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &fileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
	}, nil
}

// Close closes the file
func (fm *fileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// Finalize syncs, closes and renames the temp file to the final path
func (fm *fileManager) Finalize() error {
	if err := fm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Cleanup removes the temporary file after an aborted conversion
func (fm *fileManager) Cleanup() error {
	if fm.file != nil {
		fm.Close()
	}
	return os.Remove(fm.tmpPath)
}

// normalize fills zero-valued options with their defaults
func (o Options) normalize() Options {
	if o.Magic == 0 {
		o.Magic = header.MagicZSO
	}
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Threshold == 0 {
		o.Threshold = transform.DefaultThreshold
	}
	if o.Pad == 0 {
		o.Pad = DefaultPad
	}
	return o
}

// Encode converts a raw image read from src into a container written to
// dst. totalSize is the raw image length in bytes; src must deliver exactly
// that many. Blocks are processed strictly in order because each block's
// offset depends on the size of everything written before it.
func Encode(dst io.WriteSeeker, src io.Reader, totalSize int64, opts Options) (*EncodeStats, error) {
	opts = opts.normalize()

	method, err := MethodForMagic(opts.Magic)
	if err != nil {
		return nil, err
	}

	align := uint8(0)
	switch {
	case opts.Align == AlignAuto:
		align = autoAlign(totalSize, opts.BlockSize)
	case opts.Align < 0 || opts.Align > int(header.MaxAlign):
		return nil, fmt.Errorf("%w: %d (max %d)", header.ErrInvalidAlignment,
			opts.Align, header.MaxAlign)
	default:
		align = uint8(opts.Align)
	}

	h, err := header.New(opts.Magic, uint64(totalSize), opts.BlockSize, align)
	if err != nil {
		return nil, err
	}

	// Reject configurations whose offsets cannot be represented before a
	// single byte is written.
	if !fitsAlign(totalSize, opts.BlockSize, align) {
		return nil, fmt.Errorf("%w: %d byte image cannot be indexed at alignment shift %d",
			index.ErrOffsetTooLarge, totalSize, align)
	}

	comp, err := transform.NewCompressor(method, opts.Level, opts.Threshold)
	if err != nil {
		return nil, err
	}

	blockCount := h.BlockCount()
	table := index.New(blockCount, align)

	// Reserve the file head: the real header followed by a zeroed table.
	// The table is backfilled once every offset is known, keeping header
	// and table ahead of all payload bytes.
	if _, err := h.WriteTo(dst); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := table.WriteTo(dst); err != nil {
		return nil, fmt.Errorf("failed to reserve index table: %w", err)
	}

	stats := &EncodeStats{Blocks: blockCount, BytesIn: totalSize}
	cursor := int64(header.Size) + table.Size()
	raw := make([]byte, opts.BlockSize)

	for i := uint32(0); i < blockCount; i++ {
		blockLen := h.BlockLen(i)
		if _, err := io.ReadFull(src, raw[:blockLen]); err != nil {
			return nil, fmt.Errorf("failed to read source block %d: %w", i, err)
		}

		payload, compressed, err := comp.Compress(raw[:blockLen])
		if err != nil {
			return nil, fmt.Errorf("failed to compress block %d: %w", i, err)
		}

		cursor, err = padTo(dst, cursor, align, opts.Pad)
		if err != nil {
			return nil, err
		}

		if err := table.Record(i, cursor, compressed); err != nil {
			return nil, fmt.Errorf("failed to index block %d: %w", i, err)
		}

		n, err := dst.Write(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to write block %d: %w", i, err)
		}
		if n != len(payload) {
			return nil, fmt.Errorf("wrote incomplete block %d: %d of %d bytes",
				i, n, len(payload))
		}
		cursor += int64(n)

		if compressed {
			stats.CompressedBlocks++
		} else {
			stats.StoredBlocks++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, blockCount)
		}
	}

	// The sentinel offset must be alignment-clean like every other entry.
	cursor, err = padTo(dst, cursor, align, opts.Pad)
	if err != nil {
		return nil, err
	}
	if err := table.Finalize(cursor); err != nil {
		return nil, err
	}

	if _, err := dst.Seek(header.Size, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to index table: %w", err)
	}
	if _, err := table.WriteTo(dst); err != nil {
		return nil, fmt.Errorf("failed to write index table: %w", err)
	}

	stats.BytesOut = cursor
	return stats, nil
}

// padTo advances cursor to the next 2^align boundary, writing filler bytes.
// Decoders never rely on the filler value.
func padTo(w io.Writer, cursor int64, align uint8, pad byte) (int64, error) {
	if align == 0 {
		return cursor, nil
	}
	gap := cursor & (int64(1)<<align - 1)
	if gap == 0 {
		return cursor, nil
	}
	fill := bytes.Repeat([]byte{pad}, int(int64(1)<<align-gap))
	if _, err := w.Write(fill); err != nil {
		return cursor, fmt.Errorf("failed to write alignment padding: %w", err)
	}
	return cursor + int64(len(fill)), nil
}

// EncodeFile converts the raw image at srcPath into a container at
// dstPath, writing through a temp file so failures leave no partial output.
func EncodeFile(srcPath, dstPath string, opts Options) (*EncodeStats, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source image: %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat source image: %w", err)
	}

	fm, err := newFileManager(dstPath)
	if err != nil {
		return nil, err
	}

	stats, err := Encode(fm.file, src, stat.Size(), opts)
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
