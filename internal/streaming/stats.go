package streaming

import (
	"time"

	"github.com/earthring/chunkstream/internal/chunkcoord"
)

// FrameStats summarizes one Treadmill call.
type FrameStats struct {
	Frame       uint64           `json:"frame"`
	Home        chunkcoord.Coord `json:"home"`
	Evicted     int              `json:"evicted"`
	Candidates  int              `json:"candidates"`
	Dispatched  int              `json:"dispatched"`
	Drained     int              `json:"drained"`
	MeshRetries int              `json:"mesh_retries"`
	Failed      int              `json:"failed"`
	Resident    int              `json:"resident"`
	InFlight    int              `json:"in_flight"`
	Backlog     int              `json:"backlog"`
	Duration    time.Duration    `json:"duration_ns"`
}

// DrawStats summarizes one Draw call.
type DrawStats struct {
	Visible          int `json:"visible"`
	OpaqueDraws      int `json:"opaque_draws"`
	TransparentDraws int `json:"transparent_draws"`
}
