// Command chunkstream-sim drives the streaming manager headless along a
// scripted camera path. It writes per-frame telemetry and can serve live
// stats while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/chunkstream/internal/app"
	"github.com/earthring/chunkstream/internal/camera"
	"github.com/earthring/chunkstream/internal/config"
	"github.com/earthring/chunkstream/internal/logging"
	"github.com/earthring/chunkstream/internal/performance"
	"github.com/earthring/chunkstream/internal/render/headless"
	"github.com/earthring/chunkstream/internal/streaming"
	"github.com/earthring/chunkstream/internal/telemetry"
)

func main() {
	frames := flag.Int("frames", 600, "number of frames to run, 0 runs until interrupted")
	fps := flag.Float64("fps", 60, "simulated frames per second")
	realtime := flag.Bool("realtime", false, "pace frames to -fps instead of running flat out")
	pathName := flag.String("path", "line", "camera path: line, orbit or still")
	speed := flag.Float64("speed", 8, "camera speed in blocks per second")
	height := flag.Float64("height", 40, "camera height")
	serve := flag.Bool("serve", false, "serve /api/v1/stats and /ws/stats while running")
	profile := flag.Bool("profile", true, "record frame phase timings")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, closer, err := logging.New(cfg.Logging, "chunkstream-sim")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	rate := *fps
	if rate <= 0 {
		app.Fatal(logger, "invalid flags", fmt.Errorf("-fps must be positive, got %v", rate))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := mgl32.Vec3{0, float32(*height), 0}
	path, err := camera.ParsePath(*pathName, start, float32(*speed))
	if err != nil {
		app.Fatal(logger, "invalid flags", err)
	}

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

	profiler := performance.NewProfiler(*profile)
	device := headless.NewDevice()
	manager, err := streaming.New(ctx, device, gen, params, app.StreamingConfig(cfg.Streaming),
		app.ManagerOptions(logger, profiler, ledger)...)
	if err != nil {
		app.Fatal(logger, "failed to start streaming", err)
	}
	defer manager.Close()

	var frameLog *telemetry.FrameLogger
	if cfg.Telemetry.Dir != "" {
		frameLog = telemetry.NewFrameLogger(cfg.Telemetry.Dir)
		defer func() {
			if err := frameLog.Close(); err != nil {
				logger.Warn("failed to close frame log", "error", err)
			}
		}()
	}

	var stats *app.StatsServer
	if *serve {
		stats = app.NewStatsServer(ctx, cfg, manager, profiler, ledger, logger)
		stats.Start()
		defer stats.Shutdown(5 * time.Second)
	}

	cam := camera.New(start, 16.0/9.0)
	frameTime := time.Duration(float64(time.Second) / rate)
	var ticker *time.Ticker
	if *realtime {
		ticker = time.NewTicker(frameTime)
		defer ticker.Stop()
	}

	logger.Info("simulation started",
		"frames", *frames,
		"path", *pathName,
		"radius", cfg.Streaming.Radius,
		"workers", cfg.Streaming.Workers,
	)
	logEvery := max(int(rate), 1)
	began := time.Now()
	n := 0
	for ; *frames == 0 || n < *frames; n++ {
		if ctx.Err() != nil {
			break
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}

		path.Apply(cam, float64(n)/rate)
		device.Reset()
		manager.Treadmill(cam)
		manager.Draw(cam)

		frame, draw := manager.LastFrame(), manager.LastDraw()
		if frameLog != nil {
			if err := frameLog.WriteFrame(frame, draw); err != nil {
				logger.Warn("failed to write frame record", "error", err)
			}
		}
		if stats != nil {
			stats.Hub.Publish(telemetry.FrameRecord{Time: time.Now().UTC(), Frame: frame, Draw: draw})
		}
		if n%logEvery == 0 {
			logFrame(logger, n, frame, draw)
		}
	}

	logger.Info("simulation finished",
		"frames", n,
		"elapsed", time.Since(began).Round(time.Millisecond),
		"resident", manager.ResidentCount(),
		"meshes_live", device.Live(),
	)
	if profiler.IsEnabled() {
		profiler.LogReport(logger)
	}
}

func logFrame(logger *slog.Logger, n int, frame streaming.FrameStats, draw streaming.DrawStats) {
	logger.Debug("frame",
		"n", n,
		"home", frame.Home.String(),
		"dispatched", frame.Dispatched,
		"drained", frame.Drained,
		"resident", frame.Resident,
		"in_flight", frame.InFlight,
		"backlog", frame.Backlog,
		"visible", draw.Visible,
		"duration", frame.Duration,
	)
}
