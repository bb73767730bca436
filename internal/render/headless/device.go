// Package headless implements render.Device without a GPU. It records every
// upload, draw and release so frame loops can run in tests and simulations.
package headless

import (
	"fmt"
	"math"
	"sync"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/render"
	"github.com/go-gl/mathgl/mgl32"
)

// DrawCall is one recorded Mesh.Draw.
type DrawCall struct {
	Pass  render.Pass
	Mesh  int
	Chunk chunkcoord.Coord
}

// Device is a recording render.Device.
type Device struct {
	mu       sync.Mutex
	nextID   int
	pass     render.Pass
	failNext int
	rejected map[chunkcoord.Coord]bool
	live     map[int]*Mesh
	draws    []DrawCall
	created  int
	released int
}

// NewDevice creates an empty recording device.
func NewDevice() *Device {
	return &Device{live: make(map[int]*Mesh)}
}

// Mesh is a recorded upload.
type Mesh struct {
	dev      *Device
	id       int
	chunk    chunkcoord.Coord
	vertices int
	indices  int
	released bool
}

// FailNext makes the next n CreateMesh calls return render.ErrDeviceLost.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// RejectChunks makes every upload for the given chunks fail until the device
// is discarded.
func (d *Device) RejectChunks(coords ...chunkcoord.Coord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rejected == nil {
		d.rejected = make(map[chunkcoord.Coord]bool)
	}
	for _, c := range coords {
		d.rejected[c] = true
	}
}

// CreateMesh records an upload. The owning chunk is derived from the lowest
// vertex position.
func (d *Device) CreateMesh(vertices []float32, indices []uint32) (render.Mesh, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext > 0 {
		d.failNext--
		return nil, fmt.Errorf("upload %d vertices: %w", len(vertices)/generation.VertexStride, render.ErrDeviceLost)
	}
	if len(vertices) == 0 || len(vertices)%generation.VertexStride != 0 {
		return nil, fmt.Errorf("vertex data length %d is not a multiple of %d", len(vertices), generation.VertexStride)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("index data is empty")
	}

	chunk := chunkcoord.FromPosition(minCorner(vertices))
	if d.rejected[chunk] {
		return nil, fmt.Errorf("upload for chunk %s: %w", chunk, render.ErrDeviceLost)
	}

	d.nextID++
	d.created++
	m := &Mesh{
		dev:      d,
		id:       d.nextID,
		chunk:    chunk,
		vertices: len(vertices) / generation.VertexStride,
		indices:  len(indices),
	}
	d.live[m.id] = m
	return m, nil
}

// BeginPass records the active pass for subsequent draws.
func (d *Device) BeginPass(pass render.Pass) {
	d.mu.Lock()
	d.pass = pass
	d.mu.Unlock()
}

// Draw records a draw call in the current pass.
func (m *Mesh) Draw() {
	d := m.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.released {
		panic(fmt.Sprintf("headless: draw of released mesh %d", m.id))
	}
	d.draws = append(d.draws, DrawCall{Pass: d.pass, Mesh: m.id, Chunk: m.chunk})
}

// Release frees the mesh once.
func (m *Mesh) Release() {
	d := m.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	d.released++
	delete(d.live, m.id)
}

// Chunk returns the chunk the mesh was built for.
func (m *Mesh) Chunk() chunkcoord.Coord {
	return m.chunk
}

// Created returns how many meshes were uploaded.
func (d *Device) Created() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// Released returns how many meshes were freed.
func (d *Device) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Live returns how many meshes are currently allocated.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Draws returns the draw calls recorded since the last Reset.
func (d *Device) Draws() []DrawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DrawCall, len(d.draws))
	copy(out, d.draws)
	return out
}

// DrawsInPass returns the chunks drawn in one pass, in draw order.
func (d *Device) DrawsInPass(pass render.Pass) []chunkcoord.Coord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []chunkcoord.Coord
	for _, dc := range d.draws {
		if dc.Pass == pass {
			out = append(out, dc.Chunk)
		}
	}
	return out
}

// Reset clears recorded draw calls.
func (d *Device) Reset() {
	d.mu.Lock()
	d.draws = d.draws[:0]
	d.mu.Unlock()
}

func minCorner(vertices []float32) mgl32.Vec3 {
	lo := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	for i := 0; i+2 < len(vertices); i += generation.VertexStride {
		for axis := 0; axis < 3; axis++ {
			if vertices[i+axis] < lo[axis] {
				lo[axis] = vertices[i+axis]
			}
		}
	}
	return lo
}
