package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestMove(t *testing.T) {
	cam := New(mgl32.Vec3{0, 0, 0}, 1)
	cam.Move(10, 0, 0)
	if !near(cam.Position, mgl32.Vec3{0, 0, -10}, 1e-4) {
		t.Errorf("Expected forward along -Z, got %v", cam.Position)
	}
	cam.Move(0, 5, 2)
	if !near(cam.Position, mgl32.Vec3{5, 2, -10}, 1e-4) {
		t.Errorf("Expected right along +X and up along +Y, got %v", cam.Position)
	}
}

func TestLinePath(t *testing.T) {
	cam := New(mgl32.Vec3{}, 1)
	LinePath{Start: mgl32.Vec3{0, 8, 0}, Speed: 4}.Apply(cam, 2.5)
	if cam.Position != (mgl32.Vec3{10, 8, 0}) {
		t.Errorf("Expected (10,8,0), got %v", cam.Position)
	}
	if !near(cam.Front(), mgl32.Vec3{1, 0, 0}, 1e-4) {
		t.Errorf("Expected to look along +X, got %v", cam.Front())
	}
}

func TestOrbitPathLooksAlongTravel(t *testing.T) {
	path := OrbitPath{Center: mgl32.Vec3{0, 5, 0}, Radius: 10, Speed: 2}
	cam := New(mgl32.Vec3{}, 1)

	path.Apply(cam, 0)
	if !near(cam.Position, mgl32.Vec3{10, 5, 0}, 1e-4) {
		t.Errorf("Expected start at (10,5,0), got %v", cam.Position)
	}
	before := cam.Position
	path.Apply(cam, 0.01)
	travel := cam.Position.Sub(before).Normalize()
	if travel.Dot(cam.Front()) < 0.99 {
		t.Errorf("Expected to look along travel %v, got %v", travel, cam.Front())
	}

	dist := cam.Position.Sub(path.Center).Len()
	if dist < 9.999 || dist > 10.001 {
		t.Errorf("Expected to stay on the circle, got distance %v", dist)
	}
}

func TestParsePath(t *testing.T) {
	for _, name := range []string{"line", "orbit", "still"} {
		if _, err := ParsePath(name, mgl32.Vec3{}, 1); err != nil {
			t.Errorf("ParsePath(%q) failed: %v", name, err)
		}
	}
	if _, err := ParsePath("spiral", mgl32.Vec3{}, 1); err == nil {
		t.Error("Expected error for unknown path")
	}
}
