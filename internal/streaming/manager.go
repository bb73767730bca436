// Package streaming keeps a bounded neighborhood of chunks resident around a
// moving viewpoint. Missing chunks are generated on a worker pool and
// installed a few per frame; chunks that leave the retention volume are
// released.
//
// Treadmill and Draw must be called from the goroutine that owns the render
// device. Snapshot may be called from anywhere.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/logging"
	"github.com/earthring/chunkstream/internal/performance"
	"github.com/earthring/chunkstream/internal/render"
	"github.com/earthring/chunkstream/internal/workerpool"
	"github.com/go-gl/mathgl/mgl32"
)

// Viewer is the camera contract: a position and a visibility test.
type Viewer interface {
	ViewPosition() mgl32.Vec3
	PointInVision(p mgl32.Vec3) bool
}

// Pool runs generation jobs. *workerpool.Pool implements it.
type Pool interface {
	Submit(job workerpool.Job) error
	Drain(max int) []workerpool.Result
	Pending() int
	Close()
}

// FailureRecorder receives coordinates that will not be retried.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, coord chunkcoord.Coord, attempts int, cause error) error
}

// Config holds the scheduler limits.
type Config struct {
	Radius         int32 // horizontal retention radius; vertical is Radius/3
	Watermark      int   // max coordinates in flight
	ChunksPerFrame int   // max results and mesh retries handled per Treadmill
	Workers        int

	RetryBaseFrames uint64 // delay before the first retry of a failed chunk
	MaxAttempts     int

	// Draw the transparent pass farthest first instead of nearest first.
	TransparentBackToFront bool
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		Radius:          4,
		Watermark:       60,
		ChunksPerFrame:  8,
		Workers:         4,
		RetryBaseFrames: 30,
		MaxAttempts:     3,
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.Radius < 0 {
		return fmt.Errorf("radius must not be negative, got %d", c.Radius)
	}
	if c.Watermark < 1 {
		return fmt.Errorf("watermark must be positive, got %d", c.Watermark)
	}
	if c.ChunksPerFrame < 1 {
		return fmt.Errorf("chunks per frame must be positive, got %d", c.ChunksPerFrame)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithProfiler records phase timings.
func WithProfiler(p *performance.Profiler) Option {
	return func(m *Manager) { m.profiler = p }
}

// WithFailureRecorder reports permanently failed coordinates.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithPool uses p instead of starting a worker pool.
func WithPool(p Pool) Option {
	return func(m *Manager) { m.pool = p }
}

// priorityScale turns distances into integer priorities
const priorityScale = 1000

// visibleFactor shrinks the effective distance of candidates in view
const visibleFactor = 0.1

type candidate struct {
	coord    chunkcoord.Coord
	priority int32
	attempt  int
}

type failureReport struct {
	coord    chunkcoord.Coord
	attempts int
	cause    error
}

// Manager is the chunk cache and scheduler.
type Manager struct {
	cfg      Config
	device   render.Device
	pool     Pool
	logger   *slog.Logger
	profiler *performance.Profiler
	recorder FailureRecorder

	slots    map[chunkcoord.Coord]*slot
	loading  int
	uploads  []chunkcoord.Coord // resident chunks with a failed mesh upload
	queued   map[chunkcoord.Coord]struct{}
	frame    uint64
	last     FrameStats
	lastDraw DrawStats
	snapshot atomic.Pointer[FrameStats]
	closed   bool

	candidates []candidate
	drawList   []*Chunk

	failures chan failureReport
	recordWG sync.WaitGroup
}

// New creates a Manager. Unless WithPool is given it starts cfg.Workers
// workers running gen, each with its own copy of params.
func New(ctx context.Context, device render.Device, gen generation.Generator, params generation.Params, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid streaming config: %w", err)
	}
	if device == nil {
		return nil, errors.New("render device is required")
	}

	m := &Manager{
		cfg:    cfg,
		device: device,
		slots:  make(map[chunkcoord.Coord]*slot),
		queued: make(map[chunkcoord.Coord]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Nop()
	}
	m.logger = m.logger.With("component", "streaming")

	if m.pool == nil {
		pool, err := workerpool.New(ctx, workerpool.Config{
			Workers:  cfg.Workers,
			Capacity: cfg.Watermark,
		}, gen, params, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start worker pool: %w", err)
		}
		m.pool = pool
	}

	if m.recorder != nil {
		m.failures = make(chan failureReport, 64)
		m.recordWG.Add(1)
		go m.recordFailures()
	}

	m.snapshot.Store(&FrameStats{})
	m.logger.Info("chunk manager ready",
		"radius", cfg.Radius,
		"watermark", cfg.Watermark,
		"chunks_per_frame", cfg.ChunksPerFrame,
	)
	return m, nil
}

// Treadmill runs one frame of maintenance: evict chunks outside the retention
// volume, dispatch missing ones nearest and visible first, and install up to
// ChunksPerFrame finished results. It never blocks on the workers.
func (m *Manager) Treadmill(v Viewer) {
	if m.closed {
		return
	}
	start := time.Now()
	defer m.profiler.Start(performance.PhaseTreadmill).End()

	m.frame++
	pos := v.ViewPosition()
	home := chunkcoord.FromPosition(pos)
	volume := chunkcoord.NewRetentionVolume(home, m.cfg.Radius)
	stats := FrameStats{Frame: m.frame, Home: home}

	op := m.profiler.Start(performance.PhaseEvict)
	stats.Evicted = m.evict(volume)
	op.End()

	op = m.profiler.Start(performance.PhaseEnumerate)
	candidates := m.enumerate(volume, pos, v)
	stats.Candidates = len(candidates)
	op.End()

	op = m.profiler.Start(performance.PhaseDispatch)
	stats.Dispatched = m.dispatch(candidates)
	op.End()

	op = m.profiler.Start(performance.PhaseDrain)
	stats.Drained, stats.MeshRetries, stats.Failed = m.drain()
	op.End()

	stats.Resident = len(m.slots) - m.loading - m.failedCount()
	stats.InFlight = m.loading
	stats.Backlog = m.pool.Pending()
	stats.Duration = time.Since(start)

	m.last = stats
	published := stats
	m.snapshot.Store(&published)

	if stats.Evicted > 0 || stats.Dispatched > 0 || stats.Drained > 0 {
		m.logger.Debug("treadmill",
			"frame", stats.Frame,
			"home", home.String(),
			"evicted", stats.Evicted,
			"dispatched", stats.Dispatched,
			"drained", stats.Drained,
			"in_flight", stats.InFlight,
			"backlog", stats.Backlog,
		)
	}
}

// evict releases resident chunks outside the volume and forgets failed
// coordinates outside it. In-flight coordinates are left alone; their
// results are installed and evicted on a later frame.
func (m *Manager) evict(volume chunkcoord.RetentionVolume) int {
	evicted := 0
	for coord, s := range m.slots {
		if volume.Contains(coord) {
			continue
		}
		switch s.state {
		case StateResident:
			s.chunk.release()
			delete(m.slots, coord)
			evicted++
		case StateFailed:
			delete(m.slots, coord)
		}
	}
	return evicted
}

// enumerate lists coordinates in the volume that are absent or due for a
// retry, sorted highest priority first. Equal priorities keep volume order,
// so of two tied coordinates the one enumerated first (x, then y, then z
// ascending) is dispatched first.
func (m *Manager) enumerate(volume chunkcoord.RetentionVolume, pos mgl32.Vec3, v Viewer) []candidate {
	m.candidates = m.candidates[:0]
	volume.Each(func(coord chunkcoord.Coord) bool {
		attempt := 1
		if s, ok := m.slots[coord]; ok {
			if s.state != StateFailed || s.permanent || m.frame < s.retryAt {
				return true
			}
			attempt = s.attempt + 1
		}
		m.candidates = append(m.candidates, candidate{
			coord:    coord,
			priority: priority(coord, pos, v),
			attempt:  attempt,
		})
		return true
	})

	sort.SliceStable(m.candidates, func(i, j int) bool {
		return m.candidates[i].priority > m.candidates[j].priority
	})
	return m.candidates
}

// priority is the negated distance to the chunk center, scaled down for
// chunks whose center is in view
func priority(coord chunkcoord.Coord, pos mgl32.Vec3, v Viewer) int32 {
	center := coord.Center()
	factor := float32(1.0)
	if v.PointInVision(center) {
		factor = visibleFactor
	}
	return int32(-(center.Sub(pos).Len() * factor * priorityScale))
}

func (m *Manager) dispatch(candidates []candidate) int {
	dispatched := 0
	for _, c := range candidates {
		if m.loading >= m.cfg.Watermark {
			break
		}
		err := m.pool.Submit(workerpool.Job{Coord: c.coord, Attempt: c.attempt})
		if err != nil {
			if !errors.Is(err, workerpool.ErrQueueFull) {
				m.logger.Warn("dispatch stopped", "error", err)
			}
			break
		}

		s, ok := m.slots[c.coord]
		if !ok {
			s = &slot{}
			m.slots[c.coord] = s
		}
		s.state = StateLoading
		s.attempt = c.attempt
		m.loading++
		dispatched++
	}
	return dispatched
}

// drain installs up to ChunksPerFrame finished results and spends whatever
// budget is left on retrying mesh uploads that failed on earlier frames.
// Results past the cap stay queued in the pool, so failing uploads can never
// starve new results.
func (m *Manager) drain() (drained, retries, failed int) {
	budget := m.cfg.ChunksPerFrame
	retry := m.uploads
	m.uploads = nil

	for _, r := range m.pool.Drain(budget) {
		drained++
		if r.Err != nil {
			if m.fail(r) {
				failed++
			}
			continue
		}
		m.install(r)
	}
	budget -= drained

	for i, coord := range retry {
		if budget <= 0 {
			for _, c := range retry[i:] {
				delete(m.queued, c)
				m.queueUpload(c)
			}
			break
		}
		delete(m.queued, coord)
		s, ok := m.slots[coord]
		if !ok || s.state != StateResident || !s.chunk.pending() {
			continue
		}
		budget--
		retries++
		if m.upload(s.chunk) {
			m.queueUpload(coord)
		}
	}
	return drained, retries, failed
}

// queueUpload schedules a mesh retry for coord. A coordinate is queued at
// most once; the retry uses whatever chunk is resident at that time.
func (m *Manager) queueUpload(coord chunkcoord.Coord) {
	if _, ok := m.queued[coord]; ok {
		return
	}
	m.queued[coord] = struct{}{}
	m.uploads = append(m.uploads, coord)
}

// install makes a finished payload resident under its own coordinate
func (m *Manager) install(r workerpool.Result) {
	coord := r.Payload.Data.Coord
	if coord != r.Job.Coord {
		m.logger.Warn("result coordinate differs from job", "job", r.Job.Coord.String(), "chunk", coord.String())
		if s, ok := m.slots[r.Job.Coord]; ok && s.state == StateLoading {
			delete(m.slots, r.Job.Coord)
			m.loading--
		}
	}

	s, ok := m.slots[coord]
	if !ok {
		s = &slot{}
		m.slots[coord] = s
	}
	switch s.state {
	case StateLoading:
		m.loading--
	case StateResident:
		s.chunk.release()
	}

	chunk := &Chunk{Data: r.Payload.Data, payload: r.Payload}
	s.state = StateResident
	s.chunk = chunk
	s.permanent = false
	if m.upload(chunk) {
		m.queueUpload(coord)
	}
}

// upload creates whichever meshes are missing and reports whether any upload
// is still pending
func (m *Manager) upload(c *Chunk) bool {
	p := c.payload
	if p.Opaque != nil && c.opaque == nil {
		mesh, err := m.device.CreateMesh(p.Opaque.Vertices, p.Opaque.Indices)
		if err != nil {
			m.logger.Warn("opaque mesh upload failed", "chunk", c.Coord().String(), "error", err)
			c.pendingOpaque = true
		} else {
			c.opaque = mesh
			c.pendingOpaque = false
		}
	}
	if p.Transparent != nil && c.transparent == nil {
		mesh, err := m.device.CreateMesh(p.Transparent.Vertices, p.Transparent.Indices)
		if err != nil {
			m.logger.Warn("transparent mesh upload failed", "chunk", c.Coord().String(), "error", err)
			c.pendingTransparent = true
		} else {
			c.transparent = mesh
			c.pendingTransparent = false
		}
	}
	return c.pending()
}

// fail moves a failed job's coordinate to Failed. It reports false for
// results whose coordinate is no longer loading.
func (m *Manager) fail(r workerpool.Result) bool {
	coord := r.Job.Coord
	s, ok := m.slots[coord]
	if !ok || s.state != StateLoading {
		m.logger.Debug("dropping stale failure", "chunk", coord.String(), "error", r.Err)
		return false
	}
	m.loading--
	s.state = StateFailed
	s.attempt = r.Job.Attempt

	if generation.IsPermanent(r.Err) || s.attempt >= m.cfg.MaxAttempts {
		s.permanent = true
		m.logger.Warn("chunk generation failed permanently", "chunk", coord.String(), "attempts", s.attempt, "error", r.Err)
		m.report(coord, s.attempt, r.Err)
		return true
	}

	s.retryAt = m.frame + m.cfg.RetryBaseFrames<<uint(s.attempt-1)
	m.logger.Info("chunk generation failed, will retry",
		"chunk", coord.String(),
		"attempt", s.attempt,
		"retry_frame", s.retryAt,
		"error", r.Err,
	)
	return true
}

func (m *Manager) report(coord chunkcoord.Coord, attempts int, cause error) {
	if m.failures == nil {
		return
	}
	select {
	case m.failures <- failureReport{coord: coord, attempts: attempts, cause: cause}:
	default:
		m.logger.Warn("failure ledger backlog full, dropping report", "chunk", coord.String())
	}
}

func (m *Manager) recordFailures() {
	defer m.recordWG.Done()
	for f := range m.failures {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.recorder.RecordFailure(ctx, f.coord, f.attempts, f.cause); err != nil {
			m.logger.Warn("failed to record chunk failure", "chunk", f.coord.String(), "error", err)
		}
		cancel()
	}
}

func (m *Manager) failedCount() int {
	n := 0
	for _, s := range m.slots {
		if s.state == StateFailed {
			n++
		}
	}
	return n
}

// Draw renders resident chunks with at least one corner in view. Opaque
// meshes are drawn farthest first; transparent meshes nearest first unless
// TransparentBackToFront is set.
func (m *Manager) Draw(v Viewer) {
	if m.closed {
		return
	}
	defer m.profiler.Start(performance.PhaseDraw).End()

	pos := v.ViewPosition()
	m.drawList = m.drawList[:0]
	for _, s := range m.slots {
		if s.state != StateResident {
			continue
		}
		for _, corner := range s.chunk.Coord().Corners() {
			if v.PointInVision(corner) {
				m.drawList = append(m.drawList, s.chunk)
				break
			}
		}
	}

	sort.Slice(m.drawList, func(i, j int) bool {
		di := distSq(m.drawList[i].Coord().Center(), pos)
		dj := distSq(m.drawList[j].Coord().Center(), pos)
		if di != dj {
			return di < dj
		}
		return coordLess(m.drawList[i].Coord(), m.drawList[j].Coord())
	})

	stats := DrawStats{Visible: len(m.drawList)}

	m.device.BeginPass(render.PassOpaque)
	for i := len(m.drawList) - 1; i >= 0; i-- {
		if mesh := m.drawList[i].opaque; mesh != nil {
			mesh.Draw()
			stats.OpaqueDraws++
		}
	}

	m.device.BeginPass(render.PassTransparent)
	for i := range m.drawList {
		c := m.drawList[i]
		if m.cfg.TransparentBackToFront {
			c = m.drawList[len(m.drawList)-1-i]
		}
		if c.transparent != nil {
			c.transparent.Draw()
			stats.TransparentDraws++
		}
	}

	m.lastDraw = stats
}

func distSq(a, b mgl32.Vec3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}

func coordLess(a, b chunkcoord.Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

// StateOf returns the residency state of a coordinate.
func (m *Manager) StateOf(coord chunkcoord.Coord) State {
	if s, ok := m.slots[coord]; ok {
		return s.state
	}
	return StateAbsent
}

// Chunk returns the resident chunk at coord, or nil.
func (m *Manager) Chunk(coord chunkcoord.Coord) *Chunk {
	if s, ok := m.slots[coord]; ok && s.state == StateResident {
		return s.chunk
	}
	return nil
}

// ResidentCount returns the number of resident chunks.
func (m *Manager) ResidentCount() int {
	return len(m.slots) - m.loading - m.failedCount()
}

// InFlightCount returns the number of coordinates dispatched but not drained.
func (m *Manager) InFlightCount() int {
	return m.loading
}

// LastFrame returns stats from the most recent Treadmill.
func (m *Manager) LastFrame() FrameStats {
	return m.last
}

// LastDraw returns stats from the most recent Draw.
func (m *Manager) LastDraw() DrawStats {
	return m.lastDraw
}

// Snapshot returns the most recent frame stats. Safe for concurrent use.
func (m *Manager) Snapshot() FrameStats {
	return *m.snapshot.Load()
}

// Close stops the workers and releases every resident chunk. Treadmill and
// Draw do nothing afterwards.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.pool.Close()

	released := 0
	for coord, s := range m.slots {
		if s.state == StateResident {
			s.chunk.release()
			released++
		}
		delete(m.slots, coord)
	}
	m.loading = 0
	m.uploads = nil
	clear(m.queued)

	if m.failures != nil {
		close(m.failures)
		m.recordWG.Wait()
	}
	m.logger.Info("chunk manager closed", "released", released, "frames", m.frame)
}
