package generation

import (
	"context"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/ojrac/opensimplex-go"
)

// Terrain generates heightmap terrain with water below sea level and noise
// carved caves. It keeps no state between calls.
type Terrain struct{}

// NewTerrain creates a terrain generator.
func NewTerrain() *Terrain {
	return &Terrain{}
}

// Generate fills one chunk. The noise sources are rebuilt from the seed on
// every call so concurrent workers never share them.
func (t *Terrain) Generate(ctx context.Context, coord chunkcoord.Coord, p Params) (*ChunkData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	height := opensimplex.New32(p.Seed)
	caves := opensimplex.New32(p.Seed + 1)
	data := NewChunkData(coord)
	origin := coord.Origin()

	for x := 0; x < chunkcoord.Size; x++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wx := int32(origin.X()) + int32(x)
		for z := 0; z < chunkcoord.Size; z++ {
			wz := int32(origin.Z()) + int32(z)
			surface := fractalNoise(height, wx, wz, p)

			for y := 0; y < chunkcoord.Size; y++ {
				wy := int(origin.Y()) + y
				b := surfaceBlock(wy, surface, p)
				if b.Opaque() && wy < p.CaveCeiling && caveNoise(caves, wx, int32(wy), wz, p) > p.CaveThreshold {
					b = Air
				}
				data.Set(x, y, z, b)
			}
		}
	}
	return data, nil
}

func surfaceBlock(wy, surface int, p Params) BlockID {
	switch {
	case wy > surface:
		if wy <= p.SeaLevel {
			return Water
		}
		return Air
	case wy == surface:
		if surface <= p.SeaLevel+p.BeachBand {
			return Sand
		}
		return Grass
	case wy > surface-p.DirtDepth:
		return Dirt
	default:
		return Stone
	}
}

// fractalNoise sums octaves of 2D simplex noise into a surface height
func fractalNoise(n opensimplex.Noise32, x, z int32, p Params) int {
	val := float32(0)
	x1 := float32(x)
	z1 := float32(z)
	amplitude := p.Amplitude

	for i := 0; i < p.Octaves; i++ {
		val += n.Eval2(x1/p.Scale, z1/p.Scale) * amplitude
		x1 *= p.Lacunarity
		z1 *= p.Lacunarity
		amplitude *= p.Persistence
	}
	if val < -128 {
		return -128
	}
	if val > 128 {
		return 128
	}
	return int(val)
}

func caveNoise(n opensimplex.Noise32, x, y, z int32, p Params) float32 {
	return n.Eval3(float32(x)/p.CaveScale, float32(y)/p.CaveScale, float32(z)/p.CaveScale)
}
