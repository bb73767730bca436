// Command chunkstream-viewer opens a window and streams terrain around a
// free-flying camera. WASD moves, Space and Left Control rise and sink,
// Left Shift speeds up, Escape quits.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/chunkstream/internal/app"
	"github.com/earthring/chunkstream/internal/camera"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/logging"
	"github.com/earthring/chunkstream/internal/performance"
	"github.com/earthring/chunkstream/internal/render/glbackend"
	"github.com/earthring/chunkstream/internal/streaming"
	"github.com/earthring/chunkstream/internal/telemetry"
)

const (
	mouseSensitivity = 0.3
	flySpeed         = 12
	sprintFactor     = 4
)

func init() {
	// GLFW and GL calls must stay on the main thread
	runtime.LockOSThread()
}

func main() {
	width := flag.Int("width", 1600, "window width")
	height := flag.Int("height", 900, "window height")
	serve := flag.Bool("serve", false, "serve /api/v1/stats and /ws/stats while running")
	vsync := flag.Bool("vsync", true, "wait for vertical sync")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, closer, err := logging.New(cfg.Logging, "chunkstream-viewer")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := glfw.Init(); err != nil {
		app.Fatal(logger, "failed to initialize glfw", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	window, err := glfw.CreateWindow(*width, *height, "chunkstream", nil, nil)
	if err != nil {
		app.Fatal(logger, "failed to create window", err)
	}
	defer window.Destroy()
	window.MakeContextCurrent()
	if *vsync {
		glfw.SwapInterval(1)
	}

	device, err := glbackend.New(logger)
	if err != nil {
		app.Fatal(logger, "failed to set up renderer", err)
	}
	defer device.Close()

	params, err := app.LoadParams(cfg.Generation)
	if err != nil {
		app.Fatal(logger, "invalid generation params", err)
	}
	gen, err := app.Generator(ctx, cfg, logger)
	if err != nil {
		app.Fatal(logger, "generator unavailable", err)
	}
	ledger, closeLedger, err := app.Ledger(ctx, cfg.Database, logger)
	if err != nil {
		app.Fatal(logger, "failed to open failure ledger", err)
	}
	defer closeLedger()

	profiler := performance.NewProfiler(true)
	manager, err := streaming.New(ctx, device, gen, params, app.StreamingConfig(cfg.Streaming),
		app.ManagerOptions(logger, profiler, ledger)...)
	if err != nil {
		app.Fatal(logger, "failed to start streaming", err)
	}
	defer manager.Close()

	var stats *app.StatsServer
	if *serve {
		stats = app.NewStatsServer(ctx, cfg, manager, profiler, ledger, logger)
		stats.Start()
		defer stats.Shutdown(5 * time.Second)
	}

	cam := camera.New(mgl32.Vec3{0, 40, 0}, float32(*width)/float32(*height))
	look := &mouseLook{cam: cam, first: true}
	window.SetCursorPosCallback(look.onMove)
	window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		gl.Viewport(0, 0, int32(w), int32(h))
		if h > 0 {
			cam.Aspect = float32(w) / float32(h)
		}
	})

	gl.ClearColor(0.53, 0.75, 0.92, 1)
	last := time.Now()
	nextLog := last.Add(5 * time.Second)
	for !window.ShouldClose() && ctx.Err() == nil {
		now := time.Now()
		dt := float32(now.Sub(last).Seconds())
		last = now

		glfw.PollEvents()
		fly(window, cam, dt)

		device.Clear()
		device.SetCamera(cam.View(), cam.Projection())
		manager.Treadmill(cam)
		manager.Draw(cam)
		window.SwapBuffers()

		if stats != nil {
			stats.Hub.Publish(telemetry.FrameRecord{Time: now.UTC(), Frame: manager.LastFrame(), Draw: manager.LastDraw()})
		}
		if now.After(nextLog) {
			logStatus(logger, cam, manager)
			nextLog = now.Add(5 * time.Second)
		}
	}

	profiler.LogReport(logger)
}

// mouseLook turns the camera from cursor deltas
type mouseLook struct {
	cam          *camera.Camera
	lastX, lastY float64
	first        bool
}

func (m *mouseLook) onMove(_ *glfw.Window, x, y float64) {
	if m.first {
		m.lastX, m.lastY = x, y
		m.first = false
	}
	dx := (x - m.lastX) * mouseSensitivity
	dy := (m.lastY - y) * mouseSensitivity
	m.lastX, m.lastY = x, y
	m.cam.Turn(float32(dx), float32(dy))
}

func fly(window *glfw.Window, cam *camera.Camera, dt float32) {
	if window.GetKey(glfw.KeyEscape) == glfw.Press {
		window.SetShouldClose(true)
		return
	}

	step := flySpeed * dt
	if window.GetKey(glfw.KeyLeftShift) == glfw.Press {
		step *= sprintFactor
	}
	var forward, right, up float32
	if window.GetKey(glfw.KeyW) == glfw.Press {
		forward += step
	}
	if window.GetKey(glfw.KeyS) == glfw.Press {
		forward -= step
	}
	if window.GetKey(glfw.KeyD) == glfw.Press {
		right += step
	}
	if window.GetKey(glfw.KeyA) == glfw.Press {
		right -= step
	}
	if window.GetKey(glfw.KeySpace) == glfw.Press {
		up += step
	}
	if window.GetKey(glfw.KeyLeftControl) == glfw.Press {
		up -= step
	}
	cam.Move(forward, right, up)
}

func logStatus(logger *slog.Logger, cam *camera.Camera, manager *streaming.Manager) {
	frame, draw := manager.LastFrame(), manager.LastDraw()
	logger.Info("streaming status",
		"position", cam.Position,
		"home", frame.Home.String(),
		"resident", frame.Resident,
		"in_flight", frame.InFlight,
		"backlog", frame.Backlog,
		"visible", draw.Visible,
		"opaque_draws", draw.OpaqueDraws,
		"transparent_draws", draw.TransparentDraws,
	)
}
