package chunkcoord

// RetentionVolume is the box of chunk coordinates kept resident around a home
// chunk. The vertical extent is a third of the horizontal radius (integer floor)
// because the world is much flatter than it is wide.
type RetentionVolume struct {
	Home     Coord
	Radius   int32
	Vertical int32
}

// NewRetentionVolume builds the volume around home for a horizontal radius.
func NewRetentionVolume(home Coord, radius int32) RetentionVolume {
	if radius < 0 {
		radius = 0
	}
	return RetentionVolume{
		Home:     home,
		Radius:   radius,
		Vertical: radius / 3,
	}
}

// Contains reports whether c lies inside the volume (bounds inclusive).
func (v RetentionVolume) Contains(c Coord) bool {
	return abs32(c.X-v.Home.X) <= v.Radius &&
		abs32(c.Z-v.Home.Z) <= v.Radius &&
		abs32(c.Y-v.Home.Y) <= v.Vertical
}

// Count returns the number of coordinates inside the volume.
func (v RetentionVolume) Count() int {
	side := int(2*v.Radius + 1)
	height := int(2*v.Vertical + 1)
	return side * height * side
}

// Each visits every coordinate in the volume in a fixed order: x outermost,
// then y, then z. Returning false from fn stops the walk.
func (v RetentionVolume) Each(fn func(Coord) bool) {
	for dx := -v.Radius; dx <= v.Radius; dx++ {
		for dy := -v.Vertical; dy <= v.Vertical; dy++ {
			for dz := -v.Radius; dz <= v.Radius; dz++ {
				if !fn(v.Home.Add(dx, dy, dz)) {
					return
				}
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
