// Package camera provides a perspective camera with a point visibility test.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a perspective viewpoint. Yaw and pitch are in degrees.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FOV      float32 // vertical field of view in degrees
	Aspect   float32
	Near     float32
	Far      float32
}

var worldUp = mgl32.Vec3{0, 1, 0}

// New creates a camera looking down -Z.
func New(position mgl32.Vec3, aspect float32) *Camera {
	return &Camera{
		Position: position,
		Yaw:      -90,
		FOV:      70,
		Aspect:   aspect,
		Near:     0.1,
		Far:      350,
	}
}

// Front returns the unit view direction.
func (c *Camera) Front() mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(c.Yaw))
	pitch := float64(mgl32.DegToRad(c.Pitch))
	return mgl32.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Normalize()
}

// Right returns the unit vector to the camera's right.
func (c *Camera) Right() mgl32.Vec3 {
	return c.Front().Cross(worldUp).Normalize()
}

// Turn adjusts yaw and pitch, clamping pitch short of straight up or down.
func (c *Camera) Turn(dYaw, dPitch float32) {
	c.Yaw += dYaw
	c.Pitch = mgl32.Clamp(c.Pitch+dPitch, -89, 89)
}

// View returns the world-to-eye matrix.
func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Front()), worldUp)
}

// Projection returns the perspective matrix.
func (c *Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
}

// ViewPosition returns the viewpoint.
func (c *Camera) ViewPosition() mgl32.Vec3 {
	return c.Position
}

// PointInVision reports whether p lies inside the view frustum.
func (c *Camera) PointInVision(p mgl32.Vec3) bool {
	clip := c.Projection().Mul4(c.View()).Mul4x1(p.Vec4(1))
	w := clip.W()
	if w <= 0 {
		return false
	}
	return abs(clip.X()) <= w && abs(clip.Y()) <= w && abs(clip.Z()) <= w
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
