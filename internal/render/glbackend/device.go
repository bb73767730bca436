// Package glbackend implements render.Device on OpenGL 4.1 core.
package glbackend

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/render"
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	//go:embed shaders/chunk.vert
	vertexSource string
	//go:embed shaders/chunk.frag
	fragmentSource string
)

// Device owns the chunk shader program. It must be created and used on the
// goroutine holding the GL context.
type Device struct {
	program       uint32
	projectionLoc int32
	viewLoc       int32
	logger        *slog.Logger
}

// New initializes GL and compiles the chunk program.
func New(logger *slog.Logger) (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.BACK)
	gl.FrontFace(gl.CCW)
	gl.Enable(gl.DEPTH_TEST)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)

	program, err := linkProgram(vertexSource, fragmentSource)
	if err != nil {
		return nil, err
	}

	d := &Device{
		program:       program,
		projectionLoc: gl.GetUniformLocation(program, gl.Str("projection\x00")),
		viewLoc:       gl.GetUniformLocation(program, gl.Str("view\x00")),
		logger:        logger.With("component", "glbackend"),
	}
	d.logger.Info("OpenGL device ready", "version", gl.GoStr(gl.GetString(gl.VERSION)))
	return d, nil
}

// SetCamera uploads the view and projection matrices for this frame.
func (d *Device) SetCamera(view, projection mgl32.Mat4) {
	gl.UseProgram(d.program)
	gl.UniformMatrix4fv(d.projectionLoc, 1, false, &projection[0])
	gl.UniformMatrix4fv(d.viewLoc, 1, false, &view[0])
}

// Clear starts a frame. Depth writes are re-enabled first since the
// transparent pass leaves them off.
func (d *Device) Clear() {
	gl.DepthMask(true)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

// BeginPass sets blend and depth-write state for the pass.
func (d *Device) BeginPass(pass render.Pass) {
	gl.UseProgram(d.program)
	switch pass {
	case render.PassTransparent:
		gl.Enable(gl.BLEND)
		gl.DepthMask(false)
	default:
		gl.Disable(gl.BLEND)
		gl.DepthMask(true)
	}
}

// CreateMesh uploads one buffer set into a VAO with vertex and index buffers.
func (d *Device) CreateMesh(vertices []float32, indices []uint32) (render.Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("empty buffer set")
	}
	const stride = generation.VertexStride * 4

	var vao, vbo, ebo uint32
	gl.GenVertexArrays(1, &vao)
	gl.BindVertexArray(vao)

	gl.GenBuffers(1, &vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
	gl.BufferData(gl.ARRAY_BUFFER, 4*len(vertices), gl.Ptr(vertices), gl.STATIC_DRAW)

	gl.GenBuffers(1, &ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, 4*len(indices), gl.Ptr(indices), gl.STATIC_DRAW)

	//position
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 3, gl.FLOAT, false, stride, nil)

	//color
	gl.EnableVertexAttribArray(1)
	gl.VertexAttribPointerWithOffset(1, 4, gl.FLOAT, false, stride, uintptr(3*4))

	//face shade
	gl.EnableVertexAttribArray(2)
	gl.VertexAttribPointerWithOffset(2, 1, gl.FLOAT, false, stride, uintptr(7*4))

	gl.BindVertexArray(0)

	if code := gl.GetError(); code != gl.NO_ERROR {
		gl.DeleteBuffers(1, &vbo)
		gl.DeleteBuffers(1, &ebo)
		gl.DeleteVertexArrays(1, &vao)
		if code == gl.OUT_OF_MEMORY {
			return nil, fmt.Errorf("upload mesh: %w", render.ErrDeviceLost)
		}
		return nil, fmt.Errorf("upload mesh: gl error 0x%x", code)
	}

	return &Mesh{vao: vao, vbo: vbo, ebo: ebo, count: int32(len(indices))}, nil
}

// Mesh is an uploaded chunk buffer set.
type Mesh struct {
	vao, vbo, ebo uint32
	count         int32
}

// Draw issues one indexed draw.
func (m *Mesh) Draw() {
	if m.vao == 0 {
		return
	}
	gl.BindVertexArray(m.vao)
	gl.DrawElements(gl.TRIANGLES, m.count, gl.UNSIGNED_INT, nil)
}

// Release deletes the GL objects once.
func (m *Mesh) Release() {
	if m.vao == 0 {
		return
	}
	gl.DeleteBuffers(1, &m.vbo)
	gl.DeleteBuffers(1, &m.ebo)
	gl.DeleteVertexArrays(1, &m.vao)
	m.vao, m.vbo, m.ebo = 0, 0, 0
}

// Close deletes the shader program.
func (d *Device) Close() {
	gl.DeleteProgram(d.program)
}

func linkProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vertexShader, err := compileShader(vertexSrc, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("vertex shader: %w", err)
	}
	fragmentShader, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		gl.DeleteShader(vertexShader)
		return 0, fmt.Errorf("fragment shader: %w", err)
	}

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vertexShader)
	gl.AttachShader(prog, fragmentShader)
	gl.LinkProgram(prog)
	gl.DetachShader(prog, vertexShader)
	gl.DetachShader(prog, fragmentShader)
	gl.DeleteShader(vertexShader)
	gl.DeleteShader(fragmentShader)

	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(prog, logLength, nil, gl.Str(log))
		gl.DeleteProgram(prog)
		return 0, fmt.Errorf("failed to link program: %s", strings.TrimRight(log, "\x00"))
	}
	return prog, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("failed to compile: %s", strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}

var _ render.Device = (*Device)(nil)
