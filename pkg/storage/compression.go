package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor encodes statistics block columns for storage.
// Row starts are delta-of-delta encoded (hourly rows collapse to near
// zero), value columns are XOR encoded, both passed through zstd.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a compressor with the given zstd level (1-4)
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimestamps compresses row start times using delta-of-delta encoding + zstd
func (c *Compressor) CompressTimestamps(starts []int64) ([]byte, error) {
	if len(starts) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)

	// First start as-is, then delta-of-delta: hourly rows yield long
	// runs of zeros that zstd collapses
	if err := binary.Write(buf, binary.LittleEndian, starts[0]); err != nil {
		return nil, err
	}

	var prevDelta int64
	for i := 1; i < len(starts); i++ {
		delta := starts[i] - starts[i-1]
		if err := binary.Write(buf, binary.LittleEndian, delta-prevDelta); err != nil {
			return nil, err
		}
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressTimestamps reverses CompressTimestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	starts := make([]int64, count)

	if err := binary.Read(buf, binary.LittleEndian, &starts[0]); err != nil {
		return nil, err
	}

	var prevDelta int64
	for i := 1; i < count; i++ {
		var deltaOfDelta int64
		if err := binary.Read(buf, binary.LittleEndian, &deltaOfDelta); err != nil {
			return nil, err
		}
		delta := deltaOfDelta + prevDelta
		starts[i] = starts[i-1] + delta
		prevDelta = delta
	}

	return starts, nil
}

// CompressColumn compresses one value column using XOR encoding + zstd.
// Rows that do not carry the column are encoded as NaN holes; statistics
// values themselves are always finite.
func (c *Compressor) CompressColumn(values []*float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)

	first := columnBits(values[0])
	if err := binary.Write(buf, binary.LittleEndian, first); err != nil {
		return nil, err
	}

	// XOR against the previous row: a slowly moving series leaves
	// mostly zero bits
	prevBits := first
	for i := 1; i < len(values); i++ {
		currentBits := columnBits(values[i])
		if err := binary.Write(buf, binary.LittleEndian, currentBits^prevBits); err != nil {
			return nil, err
		}
		prevBits = currentBits
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressColumn reverses CompressColumn, returning nil entries for
// NaN holes
func (c *Compressor) DecompressColumn(data []byte, count int) ([]*float64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	buf := bytes.NewReader(decompressed)
	values := make([]*float64, count)

	var prevBits uint64
	for i := 0; i < count; i++ {
		var bits uint64
		if err := binary.Read(buf, binary.LittleEndian, &bits); err != nil {
			return nil, err
		}
		if i > 0 {
			bits ^= prevBits
		}
		if v := math.Float64frombits(bits); !math.IsNaN(v) {
			values[i] = &v
		}
		prevBits = bits
	}

	return values, nil
}

// columnBits returns the IEEE 754 bits of a column entry, NaN for holes
func columnBits(v *float64) uint64 {
	if v == nil {
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(*v)
}

// Close releases the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
