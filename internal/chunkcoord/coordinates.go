package chunkcoord

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// Size is the world-space edge length of a chunk cube in blocks.
	Size = 16
	// SizeF is Size as a float for position math.
	SizeF = float32(Size)
	// HalfSizeF is half the chunk edge length.
	HalfSizeF = SizeF / 2
)

// Coord identifies one cubical chunk volume. Coordinates are compared by value
// and are safe to use as map keys.
type Coord struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// FromPosition returns the coordinate of the chunk containing a world position
// Formula: floor(p / Size) per axis.
func FromPosition(pos mgl32.Vec3) Coord {
	return Coord{
		X: int32(math.Floor(float64(pos.X() / SizeF))),
		Y: int32(math.Floor(float64(pos.Y() / SizeF))),
		Z: int32(math.Floor(float64(pos.Z() / SizeF))),
	}
}

// Origin returns the minimum corner of the chunk in world space.
func (c Coord) Origin() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(c.X) * SizeF,
		float32(c.Y) * SizeF,
		float32(c.Z) * SizeF,
	}
}

// Center returns the centroid of the chunk in world space.
func (c Coord) Center() mgl32.Vec3 {
	return c.Origin().Add(mgl32.Vec3{HalfSizeF, HalfSizeF, HalfSizeF})
}

// Corners returns the 8 extreme points of the chunk cube
// Order: x-major, then y, then z (minimum corner first, maximum corner last).
func (c Coord) Corners() [8]mgl32.Vec3 {
	o := c.Origin()
	x, y, z := o.X(), o.Y(), o.Z()
	return [8]mgl32.Vec3{
		{x, y, z},
		{x, y, z + SizeF},
		{x, y + SizeF, z},
		{x, y + SizeF, z + SizeF},
		{x + SizeF, y, z},
		{x + SizeF, y, z + SizeF},
		{x + SizeF, y + SizeF, z},
		{x + SizeF, y + SizeF, z + SizeF},
	}
}

// Add offsets the coordinate by whole chunks.
func (c Coord) Add(dx, dy, dz int32) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// String formats the coordinate as a chunk ID ("x_y_z").
func (c Coord) String() string {
	return fmt.Sprintf("%d_%d_%d", c.X, c.Y, c.Z)
}

// Parse reads a chunk ID produced by String.
func Parse(id string) (Coord, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("invalid chunk id %q: expected x_y_z", id)
	}
	var values [3]int32
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return Coord{}, fmt.Errorf("invalid chunk id %q: %w", id, err)
		}
		values[i] = int32(v)
	}
	return Coord{X: values[0], Y: values[1], Z: values[2]}, nil
}
