package streaming

import (
	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/render"
)

// State is the residency state of one coordinate.
type State int

const (
	StateAbsent State = iota
	StateLoading
	StateResident
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateResident:
		return "resident"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// slot is the single record for a coordinate the manager knows about.
// Absent coordinates have no slot.
type slot struct {
	state     State
	attempt   int    // attempt number of the current or last job
	retryAt   uint64 // frame at which a failed coordinate may be retried
	permanent bool
	chunk     *Chunk
}

// Chunk is a resident chunk: generated content plus its GPU meshes.
type Chunk struct {
	Data *generation.ChunkData

	payload     *generation.Payload
	opaque      render.Mesh
	transparent render.Mesh
	// set when the buffer set exists but its upload failed
	pendingOpaque      bool
	pendingTransparent bool
}

// Coord returns the chunk's coordinate.
func (c *Chunk) Coord() chunkcoord.Coord {
	return c.Data.Coord
}

// HasOpaque reports whether the opaque mesh is uploaded.
func (c *Chunk) HasOpaque() bool { return c.opaque != nil }

// HasTransparent reports whether the transparent mesh is uploaded.
func (c *Chunk) HasTransparent() bool { return c.transparent != nil }

func (c *Chunk) pending() bool {
	return c.pendingOpaque || c.pendingTransparent
}

// release frees both meshes. Later calls do nothing.
func (c *Chunk) release() {
	if c.opaque != nil {
		c.opaque.Release()
		c.opaque = nil
	}
	if c.transparent != nil {
		c.transparent.Release()
		c.transparent = nil
	}
	c.pendingOpaque = false
	c.pendingTransparent = false
}
