package camera

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Move flies the camera along its own axes. forward and right follow the
// view direction; up is world up.
func (c *Camera) Move(forward, right, up float32) {
	c.Position = c.Position.
		Add(c.Front().Mul(forward)).
		Add(c.Right().Mul(right)).
		Add(worldUp.Mul(up))
}

// Path drives a camera over time for unattended runs.
type Path interface {
	Apply(c *Camera, seconds float64)
}

// LinePath flies straight along +X at Speed units per second, looking ahead.
type LinePath struct {
	Start mgl32.Vec3
	Speed float32
}

// Apply places c at its position after seconds.
func (p LinePath) Apply(c *Camera, seconds float64) {
	c.Position = p.Start.Add(mgl32.Vec3{p.Speed * float32(seconds), 0, 0})
	c.Yaw = 0
	c.Pitch = 0
}

// OrbitPath circles Center at Radius, looking along the direction of travel.
type OrbitPath struct {
	Center mgl32.Vec3
	Radius float32
	Speed  float32 // units per second along the circle
}

// Apply places c at its position after seconds.
func (p OrbitPath) Apply(c *Camera, seconds float64) {
	if p.Radius <= 0 {
		c.Position = p.Center
		return
	}
	angle := float64(p.Speed) * seconds / float64(p.Radius)
	c.Position = p.Center.Add(mgl32.Vec3{
		p.Radius * float32(math.Cos(angle)),
		0,
		p.Radius * float32(math.Sin(angle)),
	})
	// tangent of the circle
	c.Yaw = float32(math.Mod(angle*180/math.Pi+90, 360))
	c.Pitch = 0
}

// ParsePath builds a path by name: "line", "orbit" or "still".
func ParsePath(name string, start mgl32.Vec3, speed float32) (Path, error) {
	switch name {
	case "line":
		return LinePath{Start: start, Speed: speed}, nil
	case "orbit":
		return OrbitPath{Center: start, Radius: 64, Speed: speed}, nil
	case "still":
		return LinePath{Start: start}, nil
	default:
		return nil, fmt.Errorf("unknown camera path %q", name)
	}
}
