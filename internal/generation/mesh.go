package generation

import "github.com/earthring/chunkstream/internal/chunkcoord"

// VertexStride is the number of floats per vertex: position(3) rgba(4) shade(1).
const VertexStride = 8

type face struct {
	dx, dy, dz int
	corners    [4][3]float32
	shade      float32
}

// Corners are listed counter-clockwise as seen from outside the block.
var faces = [6]face{
	{1, 0, 0, [4][3]float32{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}, 0.8},
	{-1, 0, 0, [4][3]float32{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0}}, 0.8},
	{0, 1, 0, [4][3]float32{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}, 1.0},
	{0, -1, 0, [4][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}, 0.5},
	{0, 0, 1, [4][3]float32{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}, 0.65},
	{0, 0, -1, [4][3]float32{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}, 0.65},
}

var palette = map[BlockID][4]float32{
	Stone: {0.50, 0.50, 0.52, 1},
	Dirt:  {0.45, 0.30, 0.15, 1},
	Grass: {0.30, 0.65, 0.20, 1},
	Sand:  {0.85, 0.80, 0.55, 1},
	Water: {0.20, 0.40, 0.80, 0.6},
	Glass: {0.80, 0.90, 0.95, 0.3},
}

// OpaqueBuffers builds the geometry for solid blocks, or nil when the chunk
// has no visible solid faces.
func (d *ChunkData) OpaqueBuffers() *BufferSet {
	return d.buildBuffers(func(self, neighbor BlockID) bool {
		return self.Opaque() && !neighbor.Opaque()
	})
}

// TransparentBuffers builds the geometry for blended blocks, or nil when the
// chunk has none exposed.
func (d *ChunkData) TransparentBuffers() *BufferSet {
	return d.buildBuffers(func(self, neighbor BlockID) bool {
		return self.Transparent() && neighbor != self && !neighbor.Opaque()
	})
}

// Blocks across the chunk boundary read as air, so border faces are always emitted.
func (d *ChunkData) buildBuffers(visible func(self, neighbor BlockID) bool) *BufferSet {
	var set BufferSet
	origin := d.Coord.Origin()

	for y := 0; y < chunkcoord.Size; y++ {
		for z := 0; z < chunkcoord.Size; z++ {
			for x := 0; x < chunkcoord.Size; x++ {
				self := d.Get(x, y, z)
				if self == Air {
					continue
				}
				color := palette[self]
				for _, f := range faces {
					if !visible(self, d.Get(x+f.dx, y+f.dy, z+f.dz)) {
						continue
					}
					base := uint32(len(set.Vertices) / VertexStride)
					for _, c := range f.corners {
						set.Vertices = append(set.Vertices,
							origin.X()+float32(x)+c[0],
							origin.Y()+float32(y)+c[1],
							origin.Z()+float32(z)+c[2],
							color[0], color[1], color[2], color[3],
							f.shade,
						)
					}
					set.Indices = append(set.Indices, base, base+1, base+2, base, base+2, base+3)
				}
			}
		}
	}

	if len(set.Indices) == 0 {
		return nil
	}
	return &set
}
