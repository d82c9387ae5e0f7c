package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"particle-nns/internal/nns"
)

const (
	CycleLogBufferSize    = 256                    // Ring capacity
	CycleLogBatchSize     = 32                     // Records per write batch
	CycleLogFlushInterval = 100 * time.Millisecond // How often the writer drains
)

// CycleRecord is one JSONL line of the cycle log.
type CycleRecord struct {
	Sequence      uint64      `json:"seq"`
	RunID         string      `json:"runId"`
	Time          time.Time   `json:"time"`
	Points        int         `json:"points"`
	OutOfBounds   int         `json:"outOfBounds"`
	NonEmptyCells int         `json:"nonEmptyCells"`
	Neighbors     int         `json:"neighbors"`
	Timings       nns.Timings `json:"timings"`
}

// CycleLog is a bounded, rate-limited asynchronous JSONL writer.
// Emit never blocks the cycle loop: records over the rate limit are
// dropped, and a full ring drops its oldest record.
type CycleLog struct {
	mu   sync.Mutex
	ring [CycleLogBufferSize]CycleRecord
	head uint64 // next write position
	tail uint64 // next read position

	limiter *rate.Limiter

	out    io.Writer
	closer io.Closer
	enc    *json.Encoder

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	total   atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewCycleLog writes to w at most perSec records per second.
func NewCycleLog(w io.Writer, perSec float64) *CycleLog {
	burst := max(1, int(perSec/10))
	return &CycleLog{
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		out:     w,
		enc:     json.NewEncoder(w),
		stopCh:  make(chan struct{}),
	}
}

// OpenCycleLog appends to the file at path. Stop closes it.
func OpenCycleLog(path string, perSec float64) (*CycleLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cycle log: %w", err)
	}
	l := NewCycleLog(f, perSec)
	l.closer = f
	return l, nil
}

// Start launches the writer goroutine.
func (l *CycleLog) Start() {
	if l.running.Swap(true) {
		return
	}
	l.wg.Add(1)
	go l.writerLoop()
}

// Stop drains pending records and closes the underlying file, if any.
func (l *CycleLog) Stop() {
	l.stopOnce.Do(func() {
		if l.running.Load() {
			close(l.stopCh)
			l.wg.Wait()
			l.running.Store(false)
		}
		if l.closer != nil {
			l.closer.Close()
		}
	})
}

// Emit queues rec. It returns false when the record was rate limited or
// the log is not running.
func (l *CycleLog) Emit(rec CycleRecord) bool {
	if !l.running.Load() {
		return false
	}
	l.total.Add(1)
	if !l.limiter.Allow() {
		l.dropped.Add(1)
		return false
	}

	l.mu.Lock()
	if l.head-l.tail >= CycleLogBufferSize {
		l.tail++
		l.dropped.Add(1)
	}
	l.ring[l.head%CycleLogBufferSize] = rec
	l.head++
	l.mu.Unlock()
	return true
}

func (l *CycleLog) writerLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(CycleLogFlushInterval)
	defer ticker.Stop()

	batch := make([]CycleRecord, 0, CycleLogBatchSize)
	for {
		select {
		case <-l.stopCh:
			for {
				batch = l.collect(batch[:0])
				if len(batch) == 0 {
					return
				}
				l.flush(batch)
			}
		case <-ticker.C:
			batch = l.collect(batch[:0])
			if len(batch) > 0 {
				l.flush(batch)
			}
		}
	}
}

func (l *CycleLog) collect(batch []CycleRecord) []CycleRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.tail < l.head && len(batch) < CycleLogBatchSize {
		batch = append(batch, l.ring[l.tail%CycleLogBufferSize])
		l.tail++
	}
	return batch
}

func (l *CycleLog) flush(batch []CycleRecord) {
	for i := range batch {
		if err := l.enc.Encode(&batch[i]); err != nil {
			l.dropped.Add(1)
			continue
		}
		l.written.Add(1)
	}
}

// CycleLogStats reports cycle log counters.
type CycleLogStats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Written uint64 `json:"written"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// Stats returns the current counters.
func (l *CycleLog) Stats() CycleLogStats {
	l.mu.Lock()
	pending := l.head - l.tail
	l.mu.Unlock()
	return CycleLogStats{
		Total:   l.total.Load(),
		Dropped: l.dropped.Load(),
		Written: l.written.Load(),
		Pending: pending,
		Running: l.running.Load(),
	}
}
