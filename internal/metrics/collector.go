package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/rule-proxy/internal/outcome"
)

const (
	forgetTimeout = time.Second
	// forgetRetention outlives the longest rule timeout, so late outcomes of
	// a deleted rule are still recognized.
	forgetRetention = 2 * time.Hour
)

type Collector struct {
	eventCh  chan outcome.Outcome
	forgetCh chan string
	metrics  *Metrics
	prom     *promMetrics
	logger   *slog.Logger
	dropped  atomic.Int64

	// forgotten is owned by Run.
	forgotten map[string]time.Time
}

// NewCollector builds a collector. reg may be nil to skip Prometheus.
func NewCollector(bufferSize int, reg prometheus.Registerer, logger *slog.Logger) *Collector {
	c := &Collector{
		eventCh:  make(chan outcome.Outcome, bufferSize),
		forgetCh: make(chan string, 16),
		metrics:  NewMetrics(),
		logger:   logger,

		forgotten: make(map[string]time.Time),
	}
	if reg != nil {
		c.prom = newPromMetrics(reg)
	}
	return c
}

// Record queues o without blocking. It implements outcome.Recorder.
func (c *Collector) Record(o outcome.Outcome) {
	select {
	case c.eventCh <- o:
	default:
		c.dropped.Add(1)
		if c.prom != nil {
			c.prom.dropped.Inc()
		}
	}
}

// Forget removes a deleted rule's series once queued outcomes are processed.
// Outcomes for the rule that arrive later are ignored. It waits up to
// forgetTimeout for room in the queue.
func (c *Collector) Forget(ruleID string) {
	select {
	case c.forgetCh <- ruleID:
	case <-time.After(forgetTimeout):
		c.logger.Warn("Metrics forget request timed out", slog.String("rule_id", ruleID))
	}
}

// Run processes outcomes until ctx is done, then drains the buffer.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case o := <-c.eventCh:
			c.process(o)
		case id := <-c.forgetCh:
			c.forget(id)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return nil
		}
	}
}

func (c *Collector) forget(id string) {
	c.drain()

	now := time.Now()
	for old, at := range c.forgotten {
		if now.Sub(at) > forgetRetention {
			delete(c.forgotten, old)
		}
	}
	c.forgotten[id] = now

	c.metrics.Forget(id)
	if c.prom != nil {
		c.prom.forget(id)
	}
}

func (c *Collector) process(o outcome.Outcome) {
	if _, gone := c.forgotten[o.RuleID]; gone {
		return
	}
	c.metrics.RecordOutcome(o)
	if c.prom != nil {
		c.prom.observe(ruleKey(o), o.Status, string(o.Kind), o.Duration.Seconds())
	}
}

func (c *Collector) drain() {
	for {
		select {
		case o := <-c.eventCh:
			c.process(o)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	snap := c.metrics.Snapshot()
	snap.Dropped = c.dropped.Load()
	return snap
}
