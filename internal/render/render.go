// Package render defines the GPU resource contract the streaming core uses.
// Resources are created, drawn and released only on the goroutine that owns
// the graphics context.
package render

import "errors"

// Pass selects the blend state for a group of draws.
type Pass int

const (
	PassOpaque Pass = iota
	PassTransparent
)

func (p Pass) String() string {
	switch p {
	case PassOpaque:
		return "opaque"
	case PassTransparent:
		return "transparent"
	default:
		return "unknown"
	}
}

// ErrDeviceLost is returned when the device can no longer create resources.
var ErrDeviceLost = errors.New("render device lost")

// Mesh is an uploaded vertex/index buffer pair.
type Mesh interface {
	Draw()
	// Release frees the GPU resources. Calling it more than once is safe.
	Release()
}

// Device creates meshes and switches render passes.
type Device interface {
	CreateMesh(vertices []float32, indices []uint32) (Mesh, error)
	BeginPass(pass Pass)
}
