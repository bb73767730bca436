package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/render/headless"
	"github.com/earthring/chunkstream/internal/workerpool"
	"github.com/go-gl/mathgl/mgl32"
)

// fakePool records submissions and hands back results the test scripts
type fakePool struct {
	submitted []workerpool.Job
	results   []workerpool.Result
	closed    bool
	onSubmit  func(workerpool.Job)
}

func (p *fakePool) Submit(job workerpool.Job) error {
	if p.closed {
		return workerpool.ErrClosed
	}
	if p.onSubmit != nil {
		p.onSubmit(job)
	}
	p.submitted = append(p.submitted, job)
	return nil
}

func (p *fakePool) Drain(max int) []workerpool.Result {
	n := len(p.results)
	if max < n {
		n = max
	}
	out := p.results[:n:n]
	p.results = p.results[n:]
	return out
}

func (p *fakePool) Pending() int { return len(p.results) }

func (p *fakePool) Close() { p.closed = true }

// complete queues a successful result for every job submitted for coords
func (p *fakePool) complete(coords ...chunkcoord.Coord) {
	for _, c := range coords {
		p.results = append(p.results, workerpool.Result{
			Job:     workerpool.Job{Coord: c, Attempt: 1},
			Payload: payloadFor(c, true, false),
		})
	}
}

// completeAll finishes every submitted job in submission order
func (p *fakePool) completeAll() {
	for _, job := range p.submitted {
		p.results = append(p.results, workerpool.Result{Job: job, Payload: payloadFor(job.Coord, true, false)})
	}
	p.submitted = nil
}

func (p *fakePool) failJob(job workerpool.Job, permanent bool) {
	p.results = append(p.results, workerpool.Result{
		Job: job,
		Err: &generation.GenerationError{Coord: job.Coord, Attempt: job.Attempt, Permanent: permanent, Err: errors.New("noise overflow")},
	})
}

// payloadFor builds a payload with a stone block at the chunk origin and/or a
// water block in the middle
func payloadFor(coord chunkcoord.Coord, opaque, transparent bool) *generation.Payload {
	data := generation.NewChunkData(coord)
	if opaque {
		data.Set(0, 0, 0, generation.Stone)
	}
	if transparent {
		data.Set(8, 8, 8, generation.Water)
	}
	return generation.NewPayload(data)
}

type fakeViewer struct {
	pos     mgl32.Vec3
	visible func(mgl32.Vec3) bool
}

func (v *fakeViewer) ViewPosition() mgl32.Vec3 { return v.pos }

func (v *fakeViewer) PointInVision(p mgl32.Vec3) bool {
	if v.visible == nil {
		return false
	}
	return v.visible(p)
}

func blind(pos mgl32.Vec3) *fakeViewer { return &fakeViewer{pos: pos} }

func seeAll(pos mgl32.Vec3) *fakeViewer {
	return &fakeViewer{pos: pos, visible: func(mgl32.Vec3) bool { return true }}
}

type recordedFailure struct {
	coord    chunkcoord.Coord
	attempts int
}

type fakeRecorder struct {
	mu       sync.Mutex
	failures []recordedFailure
}

func (r *fakeRecorder) RecordFailure(ctx context.Context, coord chunkcoord.Coord, attempts int, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, recordedFailure{coord: coord, attempts: attempts})
	return nil
}

func (r *fakeRecorder) recorded() []recordedFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedFailure(nil), r.failures...)
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *fakePool, *headless.Device) {
	t.Helper()
	pool := &fakePool{}
	dev := headless.NewDevice()
	opts = append([]Option{WithPool(pool)}, opts...)
	m, err := New(context.Background(), dev, nil, generation.Params{}, cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m, pool, dev
}

// center returns the world center of a chunk
func center(x, y, z int32) mgl32.Vec3 {
	return chunkcoord.Coord{X: x, Y: y, Z: z}.Center()
}
