package sim

import (
	"time"

	"particle-nns/internal/nns"
)

// Snapshot is the immutable result of one cycle. Readers may hold it for
// as long as they like; the runner never mutates a published snapshot.
type Snapshot struct {
	Sequence  uint64    `json:"sequence"`
	RunID     string    `json:"runId"`
	Seed      int64     `json:"seed"`
	Timestamp time.Time `json:"timestamp"`

	Points    []nns.Vec3 `json:"-"`
	Counts    []int      `json:"counts"`
	Neighbors [][]int    `json:"neighbors,omitempty"`

	// Cells lists non-empty cells as the engine bucketed them.
	Cells []nns.CellOccupancy `json:"-"`

	Stats          nns.GridStats `json:"stats"`
	Timings        nns.Timings   `json:"timings"`
	OutOfBounds    int           `json:"outOfBounds"`
	TotalNeighbors int           `json:"totalNeighbors"`
}

// Summary is the per-cycle payload pushed to websocket clients.
type Summary struct {
	Sequence       uint64        `json:"sequence"`
	RunID          string        `json:"runId"`
	Timestamp      time.Time     `json:"timestamp"`
	Points         int           `json:"points"`
	OutOfBounds    int           `json:"outOfBounds"`
	TotalNeighbors int           `json:"totalNeighbors"`
	MaxNeighbors   int           `json:"maxNeighbors"`
	Stats          nns.GridStats `json:"stats"`
	TimingsMicros  TimingsMicros `json:"timingsUs"`
}

// TimingsMicros is nns.Timings in microseconds for display.
type TimingsMicros struct {
	Hash    int64 `json:"hash"`
	Sort    int64 `json:"sort"`
	Ranges  int64 `json:"ranges"`
	Reorder int64 `json:"reorder"`
	Query   int64 `json:"query"`
	Total   int64 `json:"total"`
}

// Summary drops the per-point slices.
func (s *Snapshot) Summary() Summary {
	maxN := 0
	for _, c := range s.Counts {
		maxN = max(maxN, c)
	}
	t := s.Timings
	return Summary{
		Sequence:       s.Sequence,
		RunID:          s.RunID,
		Timestamp:      s.Timestamp,
		Points:         len(s.Points),
		OutOfBounds:    s.OutOfBounds,
		TotalNeighbors: s.TotalNeighbors,
		MaxNeighbors:   maxN,
		Stats:          s.Stats,
		TimingsMicros: TimingsMicros{
			Hash:    t.Hash.Microseconds(),
			Sort:    t.Sort.Microseconds(),
			Ranges:  t.Ranges.Microseconds(),
			Reorder: t.Reorder.Microseconds(),
			Query:   t.Query.Microseconds(),
			Total:   t.Total().Microseconds(),
		},
	}
}

func (s *Snapshot) record() CycleRecord {
	return CycleRecord{
		Sequence:      s.Sequence,
		RunID:         s.RunID,
		Time:          s.Timestamp,
		Points:        len(s.Points),
		OutOfBounds:   s.OutOfBounds,
		NonEmptyCells: s.Stats.NonEmptyCells,
		Neighbors:     s.TotalNeighbors,
		Timings:       s.Timings,
	}
}
