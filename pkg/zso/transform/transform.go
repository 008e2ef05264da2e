// Package transform compresses and decompresses single blocks, deciding
// between compressed and verbatim storage per block.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
)

// Method selects the block compression algorithm. The container's magic tag
// determines the method, so both sides of a conversion always agree.
type Method uint8

const (
	// MethodLZ4 stores raw LZ4 blocks (ZSO containers)
	MethodLZ4 Method = iota
	// MethodDeflate stores deflate streams (CSO containers)
	MethodDeflate
)

// String returns the method name
func (m Method) String() string {
	switch m {
	case MethodLZ4:
		return "lz4"
	case MethodDeflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", m)
	}
}

const (
	// DefaultThreshold stores a block verbatim unless compression strictly
	// shrinks it
	DefaultThreshold = 100
)

var (
	// ErrCorruptStream indicates a block payload that cannot be restored to
	// its expected length
	ErrCorruptStream = errors.New("corrupt block stream")
	// ErrUnknownMethod indicates an unsupported compression method
	ErrUnknownMethod = errors.New("unknown compression method")
	// ErrInvalidLevel indicates a compression level outside the method's range
	ErrInvalidLevel = errors.New("invalid compression level")
	// ErrInvalidThreshold indicates a threshold outside 1..100
	ErrInvalidThreshold = errors.New("invalid compression threshold")
)

// hcLevels maps levels 2..9 onto the LZ4 high-compression settings
var hcLevels = []lz4.CompressionLevel{
	lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Compressor compresses blocks with a fixed method, level and fallback
// threshold. It reuses its underlying encoder state between blocks and is
// not safe for concurrent use; the codec engine processes blocks strictly
// in order anyway.
type Compressor struct {
	method    Method
	threshold int

	// deflate state, reused across blocks
	fw  *flate.Writer
	buf bytes.Buffer

	// lz4 state
	lz4   lz4.Compressor
	lz4hc lz4.CompressorHC
	hc    bool
}

// NewCompressor creates a block compressor. Level 0 selects the method's
// default; 1..9 trade speed for ratio. A block is stored verbatim when
// 100*len(compressed) >= threshold*len(raw); threshold 100 means compression
// must strictly shrink the block to be used.
func NewCompressor(method Method, level, threshold int) (*Compressor, error) {
	if threshold < 1 || threshold > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}

	c := &Compressor{method: method, threshold: threshold}

	switch method {
	case MethodLZ4:
		if level >= 2 {
			c.hc = true
			c.lz4hc = lz4.CompressorHC{Level: hcLevels[level-2]}
		}
	case MethodDeflate:
		fl := flate.DefaultCompression
		if level > 0 {
			fl = level
		}
		fw, err := flate.NewWriter(io.Discard, fl)
		if err != nil {
			return nil, fmt.Errorf("failed to create deflate writer: %w", err)
		}
		c.fw = fw
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, method)
	}

	return c, nil
}

// Method returns the compressor's block method
func (c *Compressor) Method() Method {
	return c.method
}

// Compress transforms one raw block. It returns the bytes to store and
// whether they are compressed; when compression does not pay off under the
// threshold the raw block itself is returned, so the stored payload never
// exceeds the raw block size.
func (c *Compressor) Compress(raw []byte) ([]byte, bool, error) {
	var compressed []byte

	switch c.method {
	case MethodLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		var (
			n   int
			err error
		)
		if c.hc {
			n, err = c.lz4hc.CompressBlock(raw, dst)
		} else {
			n, err = c.lz4.CompressBlock(raw, dst)
		}
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress failed: %w", err)
		}
		if n == 0 {
			// incompressible, store verbatim
			return raw, false, nil
		}
		compressed = dst[:n]

	case MethodDeflate:
		c.buf.Reset()
		c.fw.Reset(&c.buf)
		if _, err := c.fw.Write(raw); err != nil {
			return nil, false, fmt.Errorf("deflate compress failed: %w", err)
		}
		if err := c.fw.Close(); err != nil {
			return nil, false, fmt.Errorf("deflate compress failed: %w", err)
		}
		compressed = c.buf.Bytes()

	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownMethod, c.method)
	}

	if 100*len(compressed) >= c.threshold*len(raw) {
		return raw, false, nil
	}

	// the deflate buffer is reused on the next block, so hand out a copy
	return append([]byte(nil), compressed...), true, nil
}

// Decompress restores one block to expectedLen bytes. Verbatim payloads pass
// through and must already have the expected length; the engine strips
// alignment padding before calling here.
func Decompress(method Method, payload []byte, compressed bool, expectedLen int) ([]byte, error) {
	if !compressed {
		if len(payload) != expectedLen {
			return nil, fmt.Errorf("%w: stored block is %d bytes, expected %d",
				ErrCorruptStream, len(payload), expectedLen)
		}
		return payload, nil
	}

	switch method {
	case MethodLZ4:
		return decompressLZ4(payload, expectedLen)
	case MethodDeflate:
		return decompressDeflate(payload, expectedLen)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, method)
	}
}

// decompressLZ4 inflates a raw LZ4 block. An LZ4 block is not
// self-terminating, so a payload range that includes alignment padding will
// not decode as-is; trailing bytes are trimmed until the block decodes to
// the expected length.
func decompressLZ4(payload []byte, expectedLen int) ([]byte, error) {
	dst := make([]byte, expectedLen)
	for src := payload; len(src) > 0; src = src[:len(src)-1] {
		n, err := lz4.UncompressBlock(src, dst)
		if err == nil && n == expectedLen {
			return dst, nil
		}
	}
	return nil, fmt.Errorf("%w: lz4 block does not decode to %d bytes",
		ErrCorruptStream, expectedLen)
}

// decompressDeflate inflates a deflate stream. The stream is
// self-terminating, so trailing alignment padding is simply never read.
func decompressDeflate(payload []byte, expectedLen int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()

	dst := make([]byte, expectedLen)
	if _, err := io.ReadFull(fr, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}

	// a longer stream than expected is corruption, not padding
	var probe [1]byte
	if n, _ := fr.Read(probe[:]); n != 0 {
		return nil, fmt.Errorf("%w: deflate stream longer than %d bytes",
			ErrCorruptStream, expectedLen)
	}

	return dst, nil
}
