package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestPointInVision(t *testing.T) {
	cam := New(mgl32.Vec3{0, 0, 0}, 16.0/9.0)

	tests := []struct {
		name  string
		point mgl32.Vec3
		want  bool
	}{
		{"ahead", mgl32.Vec3{0, 0, -10}, true},
		{"behind", mgl32.Vec3{0, 0, 10}, false},
		{"far left", mgl32.Vec3{-100, 0, -10}, false},
		{"above", mgl32.Vec3{0, 100, -10}, false},
		{"beyond far plane", mgl32.Vec3{0, 0, -400}, false},
		{"inside near plane", mgl32.Vec3{0, 0, -0.05}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cam.PointInVision(tt.point); got != tt.want {
				t.Errorf("Expected PointInVision(%v) = %v, got %v", tt.point, tt.want, got)
			}
		})
	}
}

func TestTurnChangesVisibility(t *testing.T) {
	cam := New(mgl32.Vec3{}, 1)
	target := mgl32.Vec3{10, 0, 0}
	if cam.PointInVision(target) {
		t.Fatal("Expected +X point to be outside the initial view")
	}
	cam.Turn(90, 0)
	if !cam.PointInVision(target) {
		t.Error("Expected +X point to be visible after turning right")
	}
}

func TestTurnClampsPitch(t *testing.T) {
	cam := New(mgl32.Vec3{}, 1)
	cam.Turn(0, 500)
	if cam.Pitch != 89 {
		t.Errorf("Expected pitch 89, got %v", cam.Pitch)
	}
	cam.Turn(0, -500)
	if cam.Pitch != -89 {
		t.Errorf("Expected pitch -89, got %v", cam.Pitch)
	}
}

func TestFrontDefault(t *testing.T) {
	front := New(mgl32.Vec3{}, 1).Front()
	if !near(front, mgl32.Vec3{0, 0, -1}, 1e-5) {
		t.Errorf("Expected front (0,0,-1), got %v", front)
	}
}

// near reports whether a and b are within eps of each other
func near(a, b mgl32.Vec3, eps float32) bool {
	return a.Sub(b).Len() < eps
}
