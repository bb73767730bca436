package compression

import (
	"encoding/base64"
	"fmt"

	"github.com/earthring/chunkstream/internal/chunkcoord"
)

// CompressedBlocks represents compressed block data ready for JSON transmission.
type CompressedBlocks struct {
	Format           string `json:"format"`            // "binary_gzip" or "binary_zstd"
	Data             string `json:"data"`              // Base64-encoded compressed data
	Size             int    `json:"size"`              // Compressed size in bytes
	UncompressedSize int    `json:"uncompressed_size"` // Block count before compression
}

// CompressAndFormatBlocks compresses a block volume and wraps it for transmission.
func CompressAndFormatBlocks(coord chunkcoord.Coord, blocks []byte, format string) (*CompressedBlocks, error) {
	compressed, err := CompressBlocks(coord, blocks, format)
	if err != nil {
		return nil, err
	}
	return &CompressedBlocks{
		Format:           format,
		Data:             base64.StdEncoding.EncodeToString(compressed),
		Size:             len(compressed),
		UncompressedSize: len(blocks),
	}, nil
}

// Unpack decodes the base64 payload and decompresses it.
func (c *CompressedBlocks) Unpack() (chunkcoord.Coord, []byte, error) {
	if c == nil {
		return chunkcoord.Coord{}, nil, fmt.Errorf("compressed blocks are nil")
	}
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return chunkcoord.Coord{}, nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	coord, blocks, err := DecompressBlocks(data, c.Format)
	if err != nil {
		return chunkcoord.Coord{}, nil, err
	}
	if c.UncompressedSize != 0 && len(blocks) != c.UncompressedSize {
		return chunkcoord.Coord{}, nil, fmt.Errorf("block count mismatch: got %d want %d", len(blocks), c.UncompressedSize)
	}
	return coord, blocks, nil
}
