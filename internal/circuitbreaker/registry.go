package circuitbreaker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxHosts bounds how many breakers a registry keeps at once.
const DefaultMaxHosts = 1024

type entry struct {
	cb       *CircuitBreaker
	lastUsed atomic.Uint64
}

// Registry hands out one breaker per upstream host. A threshold of zero
// disables breaking entirely. At most maxHosts breakers are kept; inserting
// past that evicts the least recently used one, preferring closed breakers
// so that an open breaker is not forgotten while its host is still down.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*entry
	clock     atomic.Uint64
	maxHosts  int
	threshold int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRegistry(threshold int, timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		breakers:  make(map[string]*entry),
		maxHosts:  DefaultMaxHosts,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
	}
}

// WithMaxHosts sets the breaker cap. Values below one keep the default.
func (r *Registry) WithMaxHosts(n int) *Registry {
	if n > 0 {
		r.maxHosts = n
	}
	return r
}

func (r *Registry) Enabled() bool {
	return r != nil && r.threshold > 0
}

func (r *Registry) GetBreaker(host string) *CircuitBreaker {
	r.mutex.RLock()
	e, exists := r.breakers[host]
	r.mutex.RUnlock()

	if exists {
		e.lastUsed.Store(r.clock.Add(1))
		return e.cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if e, exists = r.breakers[host]; exists {
		e.lastUsed.Store(r.clock.Add(1))
		return e.cb
	}

	if len(r.breakers) >= r.maxHosts {
		r.evictLocked()
	}

	e = &entry{cb: NewCircuitBreaker(host, r.threshold, r.timeout, r.logger)}
	e.lastUsed.Store(r.clock.Add(1))
	r.breakers[host] = e
	return e.cb
}

// evictLocked drops the least recently used closed breaker, or the least
// recently used breaker of any state when none is closed.
func (r *Registry) evictLocked() {
	var (
		victim, closedVictim string
		oldest, closedOldest uint64
		found, foundClosed   bool
	)

	for host, e := range r.breakers {
		used := e.lastUsed.Load()
		if !found || used < oldest {
			victim, oldest, found = host, used, true
		}
		if e.cb.State() == StateClosed && (!foundClosed || used < closedOldest) {
			closedVictim, closedOldest, foundClosed = host, used, true
		}
	}

	if foundClosed {
		victim = closedVictim
	}
	if !found {
		return
	}

	delete(r.breakers, victim)
	r.logger.Debug("Circuit breaker evicted",
		slog.String("host", victim),
		slog.Int("max_hosts", r.maxHosts))
}

// Allow is GetBreaker(host).Allow(), or always true when disabled.
func (r *Registry) Allow(host string) (done func(success bool), ok bool) {
	if !r.Enabled() {
		return func(bool) {}, true
	}
	return r.GetBreaker(host).Allow()
}

// Stats returns the state of every breaker currently kept, keyed by host.
func (r *Registry) Stats() map[string]State {
	if r == nil {
		return map[string]State{}
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for host, e := range r.breakers {
		stats[host] = e.cb.State()
	}
	return stats
}
