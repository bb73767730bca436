package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/earthring/chunkstream/internal/chunkcoord"
)

// BlockID identifies the material occupying one block.
type BlockID uint8

const (
	Air BlockID = iota
	Stone
	Dirt
	Grass
	Sand
	Water
	Glass
)

// BlockCount is the number of blocks in one chunk volume.
const BlockCount = chunkcoord.Size * chunkcoord.Size * chunkcoord.Size

// Opaque reports whether the block hides whatever is behind it.
func (b BlockID) Opaque() bool {
	switch b {
	case Stone, Dirt, Grass, Sand:
		return true
	}
	return false
}

// Transparent reports whether the block is drawn in the blended pass.
func (b BlockID) Transparent() bool {
	return b == Water || b == Glass
}

// ChunkData is the generated content of one chunk. It is produced by a worker
// and never mutated after it is handed to the scheduler.
type ChunkData struct {
	Coord  chunkcoord.Coord
	Blocks []BlockID // len = BlockCount, index = x + z*Size + y*Size*Size
}

// NewChunkData allocates an all-air chunk.
func NewChunkData(coord chunkcoord.Coord) *ChunkData {
	return &ChunkData{
		Coord:  coord,
		Blocks: make([]BlockID, BlockCount),
	}
}

func index(x, y, z int) int {
	return x + z*chunkcoord.Size + y*chunkcoord.Size*chunkcoord.Size
}

func inChunk(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < chunkcoord.Size && y < chunkcoord.Size && z < chunkcoord.Size
}

// Get returns the block at local coordinates; outside the chunk reads as air.
func (d *ChunkData) Get(x, y, z int) BlockID {
	if !inChunk(x, y, z) {
		return Air
	}
	return d.Blocks[index(x, y, z)]
}

// Set writes the block at local coordinates.
func (d *ChunkData) Set(x, y, z int, b BlockID) {
	if !inChunk(x, y, z) {
		return
	}
	d.Blocks[index(x, y, z)] = b
}

// Empty reports whether the chunk contains only air.
func (d *ChunkData) Empty() bool {
	for _, b := range d.Blocks {
		if b != Air {
			return false
		}
	}
	return true
}

// BufferSet is one vertex list plus index list ready for upload.
type BufferSet struct {
	Vertices []float32
	Indices  []uint32
}

// VertexCount returns the number of vertices in the set.
func (b *BufferSet) VertexCount() int {
	if b == nil {
		return 0
	}
	return len(b.Vertices) / VertexStride
}

// Payload is what a worker publishes for one finished job: the chunk content
// plus the optional opaque and transparent buffer sets. A nil buffer set means
// the chunk has no geometry of that kind.
type Payload struct {
	Data        *ChunkData
	Opaque      *BufferSet
	Transparent *BufferSet
}

// NewPayload derives both buffer sets from generated content.
func NewPayload(data *ChunkData) *Payload {
	return &Payload{
		Data:        data,
		Opaque:      data.OpaqueBuffers(),
		Transparent: data.TransparentBuffers(),
	}
}

// Generator produces chunk content. Implementations must be deterministic for
// fixed inputs and safe for concurrent use when every caller passes its own
// copy of Params.
type Generator interface {
	Generate(ctx context.Context, coord chunkcoord.Coord, params Params) (*ChunkData, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, coord chunkcoord.Coord, params Params) (*ChunkData, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, coord chunkcoord.Coord, params Params) (*ChunkData, error) {
	return f(ctx, coord, params)
}

// ErrUnavailable is returned when a remote generation service cannot be reached.
var ErrUnavailable = errors.New("generation service unavailable")

// GenerationError describes a failed generation for one coordinate.
type GenerationError struct {
	Coord     chunkcoord.Coord
	Attempt   int
	Permanent bool
	Err       error
}

func (e *GenerationError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Attempt > 0 {
		return fmt.Sprintf("generate chunk %s (%s, attempt %d): %v", e.Coord, kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("generate chunk %s (%s): %v", e.Coord, kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a GenerationError marked permanent.
func IsPermanent(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Permanent
	}
	return false
}
