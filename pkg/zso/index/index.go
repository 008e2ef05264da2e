// Package index implements the block index table: one packed 4-byte entry
// per block plus a sentinel, mapping block numbers to payload byte ranges.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// EntrySize is the on-disk size of one index entry
	EntrySize = 4
	// MaxOffset is the largest representable pre-shift offset (31 bits,
	// the high bit carries the compressed flag)
	MaxOffset = uint32(0x7FFFFFFF)

	flagCompressed = uint32(0x80000000)
)

var (
	// ErrOffsetTooLarge indicates an offset that is not alignment-clean or
	// does not fit the 31-bit stored offset field
	ErrOffsetTooLarge = errors.New("offset exceeds index entry range")
	// ErrOutOfRange indicates a block number beyond the table
	ErrOutOfRange = errors.New("block number out of range")
)

// Entry is the decoded form of one index slot. Offset is the stored
// pre-shift value; the actual byte offset is Offset << align. All flag-bit
// packing happens in Pack and Unpack, never at call sites.
type Entry struct {
	Offset     uint32
	Compressed bool
}

// Pack encodes the entry into its 4-byte wire representation
func (e Entry) Pack() uint32 {
	raw := e.Offset
	if e.Compressed {
		raw |= flagCompressed
	}
	return raw
}

// Unpack decodes a wire entry
func Unpack(raw uint32) Entry {
	return Entry{
		Offset:     raw & MaxOffset,
		Compressed: raw&flagCompressed != 0,
	}
}

// Table is the in-memory index for one container: blockCount entries plus
// a sentinel whose offset marks the end of the payload region. Entries are
// appended in block order during encode and read-only during decode.
type Table struct {
	entries []Entry
	align   uint8
}

// New creates a table with blockCount+1 zeroed slots
func New(blockCount uint32, align uint8) *Table {
	return &Table{
		entries: make([]Entry, blockCount+1),
		align:   align,
	}
}

// BlockCount returns the number of data blocks the table covers
func (t *Table) BlockCount() uint32 {
	return uint32(len(t.entries) - 1)
}

// Size returns the serialized table size in bytes
func (t *Table) Size() int64 {
	return int64(len(t.entries)) * EntrySize
}

// pack validates an actual byte offset and converts it to stored form
func (t *Table) pack(actualOffset int64, compressed bool) (Entry, error) {
	if actualOffset < 0 || actualOffset&(1<<t.align-1) != 0 {
		return Entry{}, fmt.Errorf("%w: offset %d not aligned to %d bytes",
			ErrOffsetTooLarge, actualOffset, 1<<t.align)
	}
	shifted := actualOffset >> t.align
	if shifted > int64(MaxOffset) {
		return Entry{}, fmt.Errorf("%w: offset %d needs more than 31 bits at alignment shift %d",
			ErrOffsetTooLarge, actualOffset, t.align)
	}
	return Entry{Offset: uint32(shifted), Compressed: compressed}, nil
}

// Record stores the entry for block i. actualOffset is the byte position of
// the block's payload in the container and must have zero low align bits.
func (t *Table) Record(i uint32, actualOffset int64, compressed bool) error {
	if i >= t.BlockCount() {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, i, t.BlockCount())
	}
	e, err := t.pack(actualOffset, compressed)
	if err != nil {
		return err
	}
	t.entries[i] = e
	return nil
}

// Finalize writes the sentinel entry marking the end of the payload region
func (t *Table) Finalize(endOffset int64) error {
	e, err := t.pack(endOffset, false)
	if err != nil {
		return err
	}
	t.entries[len(t.entries)-1] = e
	return nil
}

// Lookup returns the byte range block i occupies and whether it is
// compressed. The range end comes from the following entry, so the sentinel
// gives the last block a length the same way as every other block. The range
// may include alignment padding past the true payload.
func (t *Table) Lookup(i uint32) (start, end int64, compressed bool, err error) {
	if i >= t.BlockCount() {
		return 0, 0, false, fmt.Errorf("%w: block %d of %d", ErrOutOfRange, i, t.BlockCount())
	}
	start = int64(t.entries[i].Offset) << t.align
	end = int64(t.entries[i+1].Offset) << t.align
	return start, end, t.entries[i].Compressed, nil
}

// WriteTo serializes the table as contiguous little-endian entries
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, t.Size())
	for i, e := range t.entries {
		binary.LittleEndian.PutUint32(buf[i*EntrySize:], e.Pack())
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom reads blockCount+1 entries from r into a new table
func ReadFrom(r io.Reader, blockCount uint32, align uint8) (*Table, error) {
	t := New(blockCount, align)
	buf := make([]byte, t.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read index table: %w", err)
	}
	for i := range t.entries {
		t.entries[i] = Unpack(binary.LittleEndian.Uint32(buf[i*EntrySize:]))
	}
	return t, nil
}
