// Package metrics keeps in-process counters and timings for the pipeline.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000 // samples kept per timing for percentiles

// Manager holds every metric by path ("topic/function")
type Manager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	successFail map[string]*SuccessFailMetric
	outcomes    map[string]*OutcomeMetric
}

var (
	instance *Manager
	once     sync.Once
)

// New creates an empty manager. Tests use this instead of the singleton.
func New() *Manager {
	return &Manager{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		successFail: make(map[string]*SuccessFailMetric),
		outcomes:    make(map[string]*OutcomeMetric),
	}
}

// GetInstance returns the process-wide manager
func GetInstance() *Manager {
	once.Do(func() {
		instance = New()
	})
	return instance
}

func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", topic, function)
}

// RecordDuration records a duration sample
func (m *Manager) RecordDuration(topic, function string, d time.Duration) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, ok := m.timings[path]
	if !ok {
		metric = &TimingMetric{
			samples: make([]time.Duration, 0, 16),
			Min:     d,
			Max:     d,
		}
		m.timings[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	defer metric.mu.Unlock()

	metric.Count++
	metric.Total += d
	metric.Last = d
	if d < metric.Min {
		metric.Min = d
	}
	if d > metric.Max {
		metric.Max = d
	}
	if len(metric.samples) < maxSamples {
		metric.samples = append(metric.samples, d)
	} else {
		metric.samples[metric.sampleIdx] = d
		metric.sampleIdx = (metric.sampleIdx + 1) % maxSamples
	}
}

// AddCounter adds delta to a counter
func (m *Manager) AddCounter(topic, function string, delta int64) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, ok := m.counters[path]
	if !ok {
		metric = &CounterMetric{}
		m.counters[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	metric.Value += delta
	metric.Last = time.Now()
	metric.mu.Unlock()
}

func (m *Manager) successFailFor(path string) *SuccessFailMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.successFail[path]
	if !ok {
		metric = &SuccessFailMetric{FailureReasons: make(map[string]int64)}
		m.successFail[path] = metric
	}
	return metric
}

func (s *SuccessFailMetric) push(ok bool) {
	s.recentWindow[s.windowIndex] = ok
	s.windowIndex = (s.windowIndex + 1) % len(s.recentWindow)
	if s.windowSize < len(s.recentWindow) {
		s.windowSize++
	}
}

// RecordSuccess records a successful operation
func (m *Manager) RecordSuccess(topic, function string) {
	metric := m.successFailFor(buildPath(topic, function))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Success++
	metric.LastSuccess = time.Now()
	metric.push(true)
}

// RecordFailure records a failed operation. An empty reason is not tallied.
func (m *Manager) RecordFailure(topic, function, reason string) {
	metric := m.successFailFor(buildPath(topic, function))

	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Failures++
	metric.LastFailure = time.Now()
	if reason != "" {
		metric.FailureReasons[reason]++
	}
	metric.push(false)
}

// RecordOutcome records one of several named outcomes
func (m *Manager) RecordOutcome(topic, function, outcome string) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, ok := m.outcomes[path]
	if !ok {
		metric = &OutcomeMetric{Outcomes: make(map[string]int64)}
		m.outcomes[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	metric.Outcomes[outcome]++
	metric.Total++
	metric.LastOutcome = outcome
	metric.LastTime = time.Now()
	metric.mu.Unlock()
}

// GetSnapshot returns a copy of all metrics keyed by path
func (m *Manager) GetSnapshot() map[string]*MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*MetricSnapshot, len(m.timings)+len(m.counters)+len(m.successFail)+len(m.outcomes))

	for path, t := range m.timings {
		t.mu.Lock()
		snap := TimingSnapshot{
			Count:  t.Count,
			MinMs:  ms(t.Min),
			MaxMs:  ms(t.Max),
			LastMs: ms(t.Last),
			P95Ms:  calculatePercentile(t.samples, 95),
		}
		if t.Count > 0 {
			snap.AvgMs = ms(t.Total) / float64(t.Count)
		}
		t.mu.Unlock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeTiming, Health: getTimingHealth(snap.AvgMs), Data: snap}
	}

	for path, c := range m.counters {
		c.mu.Lock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: c.Value}}
		c.mu.Unlock()
	}

	for path, s := range m.successFail {
		s.mu.Lock()
		snap := SuccessFailSnapshot{
			Success:        s.Success,
			Failures:       s.Failures,
			FailureReasons: make(map[string]int64, len(s.FailureReasons)),
		}
		for k, v := range s.FailureReasons {
			snap.FailureReasons[k] = v
		}
		if total := s.Success + s.Failures; total > 0 {
			snap.SuccessRate = float64(s.Success) / float64(total)
		}
		if s.windowSize > 0 {
			good := 0
			for i := 0; i < s.windowSize; i++ {
				if s.recentWindow[i] {
					good++
				}
			}
			snap.RecentRate = float64(good) / float64(s.windowSize)
		}
		s.mu.Unlock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeSuccessFail, Health: getRateHealth(snap.RecentRate, s.windowSize), Data: snap}
	}

	for path, o := range m.outcomes {
		o.mu.Lock()
		snap := OutcomeSnapshot{
			Outcomes:    make(map[string]int64, len(o.Outcomes)),
			Total:       o.Total,
			LastOutcome: o.LastOutcome,
		}
		for k, v := range o.Outcomes {
			snap.Outcomes[k] = v
		}
		o.mu.Unlock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeOutcome, Data: snap}
	}

	return out
}

// Reset drops every metric
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings = make(map[string]*TimingMetric)
	m.counters = make(map[string]*CounterMetric)
	m.successFail = make(map[string]*SuccessFailMetric)
	m.outcomes = make(map[string]*OutcomeMetric)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func calculatePercentile(samples []time.Duration, percentile int) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted)*percentile)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return ms(sorted[idx])
}

// Provider attempts routinely take seconds, so thresholds are generous
func getTimingHealth(avgMs float64) HealthStatus {
	switch {
	case avgMs < 10000:
		return HealthGood
	case avgMs < 60000:
		return HealthWarning
	default:
		return HealthCritical
	}
}

func getRateHealth(rate float64, samples int) HealthStatus {
	if samples == 0 {
		return HealthGood
	}
	switch {
	case rate >= 0.9:
		return HealthGood
	case rate >= 0.5:
		return HealthWarning
	default:
		return HealthCritical
	}
}
