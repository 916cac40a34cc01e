package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeCounter     MetricType = "counter"
	TypeSuccessFail MetricType = "success_fail"
	TypeOutcome     MetricType = "outcome"
)

// HealthStatus represents the health of a metric
type HealthStatus int

const (
	HealthGood     HealthStatus = iota // Green
	HealthWarning                      // Yellow
	HealthCritical                     // Red
)

// TimingMetric tracks timing statistics
type TimingMetric struct {
	mu        sync.Mutex
	Count     int64
	Total     time.Duration
	Min       time.Duration
	Max       time.Duration
	Last      time.Duration
	samples   []time.Duration // ring buffer for percentiles
	sampleIdx int
}

// CounterMetric tracks incrementing values
type CounterMetric struct {
	mu    sync.Mutex
	Value int64
	Last  time.Time
}

// SuccessFailMetric tracks success and failure counts
type SuccessFailMetric struct {
	mu             sync.Mutex
	Success        int64
	Failures       int64
	LastSuccess    time.Time
	LastFailure    time.Time
	FailureReasons map[string]int64 // reason -> count
	// sliding window over the last 100 operations
	recentWindow [100]bool
	windowIndex  int
	windowSize   int
}

// OutcomeMetric tracks multiple possible outcomes
type OutcomeMetric struct {
	mu          sync.Mutex
	Outcomes    map[string]int64 // outcome -> count
	LastOutcome string
	LastTime    time.Time
	Total       int64
}

// MetricSnapshot represents a point-in-time view of a metric
type MetricSnapshot struct {
	Path   string       `json:"path"`
	Type   MetricType   `json:"type"`
	Health HealthStatus `json:"health"`
	Data   interface{}  `json:"data"`
}

// TimingSnapshot for JSON serialization
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	LastMs float64 `json:"last_ms"`
	P95Ms  float64 `json:"p95_ms,omitempty"`
}

// CounterSnapshot for JSON serialization
type CounterSnapshot struct {
	Value int64 `json:"value"`
}

// SuccessFailSnapshot for JSON serialization
type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	RecentRate     float64          `json:"recent_rate"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}

// OutcomeSnapshot for JSON serialization
type OutcomeSnapshot struct {
	Outcomes    map[string]int64 `json:"outcomes"`
	Total       int64            `json:"total"`
	LastOutcome string           `json:"last_outcome,omitempty"`
}
