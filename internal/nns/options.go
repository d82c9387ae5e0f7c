package nns

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"particle-nns/internal/parallel"
)

// BoundsPolicy selects how hashing treats points outside the buffered volume.
type BoundsPolicy uint8

const (
	// PolicySafe clamps out-of-volume points into the overflow cell silently.
	PolicySafe BoundsPolicy = iota
	// PolicyStrict clamps like PolicySafe and logs every out-of-volume point.
	PolicyStrict
	// PolicyUnchecked skips the per-axis check. The caller guarantees every
	// point lies inside the buffered volume.
	PolicyUnchecked
)

func (p BoundsPolicy) String() string {
	switch p {
	case PolicySafe:
		return "safe"
	case PolicyStrict:
		return "strict"
	case PolicyUnchecked:
		return "unchecked"
	default:
		return fmt.Sprintf("BoundsPolicy(%d)", uint8(p))
	}
}

// ParseBoundsPolicy parses "safe", "strict" or "unchecked".
func ParseBoundsPolicy(s string) (BoundsPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "safe":
		return PolicySafe, nil
	case "strict", "debug":
		return PolicyStrict, nil
	case "unchecked", "fast":
		return PolicyUnchecked, nil
	}
	return PolicySafe, fmt.Errorf("nns: unknown bounds policy %q", s)
}

// UnmarshalText lets the policy be read from env vars and JSON.
func (p *BoundsPolicy) UnmarshalText(text []byte) error {
	v, err := ParseBoundsPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p BoundsPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SortStrategy selects the bucket sort used to group pairs by cell.
type SortStrategy uint8

const (
	// SortComparison is a pattern-defeating quicksort on cell id.
	SortComparison SortStrategy = iota
	// SortCounting is a stable counting sort, O(points + cells).
	SortCounting
)

func (s SortStrategy) String() string {
	switch s {
	case SortComparison:
		return "comparison"
	case SortCounting:
		return "counting"
	default:
		return fmt.Sprintf("SortStrategy(%d)", uint8(s))
	}
}

// ParseSortStrategy parses "comparison" or "counting".
func ParseSortStrategy(s string) (SortStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "comparison", "quick":
		return SortComparison, nil
	case "counting", "radix":
		return SortCounting, nil
	}
	return SortComparison, fmt.Errorf("nns: unknown sort strategy %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SortStrategy) UnmarshalText(text []byte) error {
	v, err := ParseSortStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s SortStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type options struct {
	policy            BoundsPolicy
	sort              SortStrategy
	workers           int
	parallelThreshold int
	neighborLists     bool
	logger            *zap.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithBoundsPolicy sets the out-of-volume handling. Default PolicySafe.
func WithBoundsPolicy(p BoundsPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithSortStrategy sets the bucket sort. Default SortComparison.
func WithSortStrategy(s SortStrategy) Option {
	return func(o *options) {
		o.sort = s
	}
}

// WithWorkers caps the goroutines used by the parallel phases.
// Values <= 0 mean GOMAXPROCS; 1 forces sequential execution.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = parallel.DefaultWorkers()
		}
		o.workers = n
	}
}

// WithParallelThreshold sets the point count below which the parallel
// phases run inline.
func WithParallelThreshold(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.parallelThreshold = n
	}
}

// WithNeighborLists records each point's neighbour original indices in
// addition to the counts. Diagnostic only; it allocates per point.
func WithNeighborLists(enabled bool) Option {
	return func(o *options) {
		o.neighborLists = enabled
	}
}

// WithLogger sets the logger used for strict-policy and grid layout
// diagnostics.
// Pass nil to disable logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.logger = l
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		policy:            PolicySafe,
		sort:              SortComparison,
		workers:           parallel.DefaultWorkers(),
		parallelThreshold: parallel.DefaultThreshold,
		logger:            zap.NewNop(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
