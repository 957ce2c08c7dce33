package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/rule-proxy/internal/outcome"
)

// UnmatchedKey groups requests that matched no rule.
const UnmatchedKey = "unmatched"

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	errors        map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	errorKinds    map[string]map[outcome.Kind]int64
	lastSeen      map[string]time.Time
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                  `json:"total_requests"`
	TotalErrors   int64                  `json:"total_errors"`
	Dropped       int64                  `json:"dropped"`
	Uptime        time.Duration          `json:"uptime"`
	Rules         map[string]RuleMetrics `json:"rules"`
}

type RuleMetrics struct {
	Requests    int64                  `json:"requests"`
	Errors      int64                  `json:"errors"`
	AvgResponse time.Duration          `json:"avg_response"`
	P50Response time.Duration          `json:"p50_response"`
	P95Response time.Duration          `json:"p95_response"`
	P99Response time.Duration          `json:"p99_response"`
	StatusCodes map[int]int64          `json:"status_codes"`
	ErrorKinds  map[outcome.Kind]int64 `json:"error_kinds,omitempty"`
	LastSeen    time.Time              `json:"last_seen"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		errors:        make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		errorKinds:    make(map[string]map[outcome.Kind]int64),
		lastSeen:      make(map[string]time.Time),
		startTime:     time.Now(),
	}
}

func ruleKey(o outcome.Outcome) string {
	if o.RuleID == "" {
		return UnmatchedKey
	}
	return o.RuleID
}

// RecordOutcome adds one finished request.
func (m *Metrics) RecordOutcome(o outcome.Outcome) {
	key := ruleKey(o)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[key]++
	m.lastSeen[key] = o.Timestamp

	m.responseTimes[key] = append(m.responseTimes[key], o.Duration)
	if len(m.responseTimes[key]) > maxSamples {
		m.responseTimes[key] = m.responseTimes[key][1:]
	}

	if m.statusCodes[key] == nil {
		m.statusCodes[key] = make(map[int]int64)
	}
	m.statusCodes[key][o.Status]++

	if o.Failed() {
		m.errors[key]++
		if m.errorKinds[key] == nil {
			m.errorKinds[key] = make(map[outcome.Kind]int64)
		}
		m.errorKinds[key][o.Kind]++
	}
}

// Forget drops everything recorded for a rule, e.g. after it was deleted.
func (m *Metrics) Forget(ruleID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.requests, ruleID)
	delete(m.errors, ruleID)
	delete(m.responseTimes, ruleID)
	delete(m.statusCodes, ruleID)
	delete(m.errorKinds, ruleID)
	delete(m.lastSeen, ruleID)
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime: time.Since(m.startTime),
		Rules:  make(map[string]RuleMetrics, len(m.requests)),
	}

	for key, requests := range m.requests {
		snap.TotalRequests += requests
		snap.TotalErrors += m.errors[key]

		rm := RuleMetrics{
			Requests:    requests,
			Errors:      m.errors[key],
			StatusCodes: copyCounts(m.statusCodes[key]),
			ErrorKinds:  copyCounts(m.errorKinds[key]),
			LastSeen:    m.lastSeen[key],
		}

		durations := m.responseTimes[key]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Rules[key] = rm
	}

	return snap
}

func copyCounts[K comparable](in map[K]int64) map[K]int64 {
	if in == nil {
		return nil
	}
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
