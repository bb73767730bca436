package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// Magic number for chunk block format.
	BlocksMagic = "CHNK"
	// Current format version.
	BlocksVersion = 1
	// Gzip compression level (balance between size and speed).
	DefaultGzipLevel = 6
)

// Transport formats
const (
	FormatGzip = "binary_gzip"
	FormatZstd = "binary_zstd"
)

// BlocksHeader is the fixed binary header in front of the block bytes.
type BlocksHeader struct {
	Magic      [4]byte // "CHNK"
	Version    uint8
	_          [3]byte
	X, Y, Z    int32
	BlockCount uint32
}

// CompressBlocks encodes a chunk's block volume and compresses it with the
// given transport format.
func CompressBlocks(coord chunkcoord.Coord, blocks []byte, format string) ([]byte, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("blocks are empty")
	}

	var raw bytes.Buffer
	header := BlocksHeader{
		Version:    BlocksVersion,
		X:          coord.X,
		Y:          coord.Y,
		Z:          coord.Z,
		BlockCount: uint32(len(blocks)),
	}
	copy(header.Magic[:], BlocksMagic)
	if err := binary.Write(&raw, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	raw.Write(blocks)

	switch format {
	case FormatGzip:
		return gzipCompress(raw.Bytes(), DefaultGzipLevel)
	case FormatZstd:
		return zstdCompress(raw.Bytes())
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// DecompressBlocks reverses CompressBlocks.
func DecompressBlocks(data []byte, format string) (chunkcoord.Coord, []byte, error) {
	var raw []byte
	var err error
	switch format {
	case FormatGzip:
		raw, err = gzipDecompress(data)
	case FormatZstd:
		raw, err = zstdDecompress(data)
	default:
		return chunkcoord.Coord{}, nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return chunkcoord.Coord{}, nil, err
	}

	r := bytes.NewReader(raw)
	var header BlocksHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return chunkcoord.Coord{}, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != BlocksMagic {
		return chunkcoord.Coord{}, nil, fmt.Errorf("bad magic %q", header.Magic[:])
	}
	if header.Version != BlocksVersion {
		return chunkcoord.Coord{}, nil, fmt.Errorf("unsupported version %d", header.Version)
	}

	blocks := make([]byte, header.BlockCount)
	if _, err := io.ReadFull(r, blocks); err != nil {
		return chunkcoord.Coord{}, nil, fmt.Errorf("block data truncated: %w", err)
	}
	coord := chunkcoord.Coord{X: header.X, Y: header.Y, Z: header.Z}
	return coord, blocks, nil
}

// gzipCompress compresses data using gzip
func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to gzip: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	return out, nil
}

func zstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode zstd frame: %w", err)
	}
	return out, nil
}
