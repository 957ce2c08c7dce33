package circuitbreaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing with one request
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreaker trips after threshold consecutive failures and stays open
// for resetTimeout before letting a single trial request through.
type CircuitBreaker struct {
	gb *gobreaker.TwoStepCircuitBreaker
}

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		gb: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     resetTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return int(c.ConsecutiveFailures) >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					"upstream", name,
					"from", fromGobreaker(from).String(),
					"to", fromGobreaker(to).String(),
				)
			},
		}),
	}
}

// Allow reports whether a request may proceed. When it may, done must be
// called exactly once with the outcome.
func (cb *CircuitBreaker) Allow() (done func(success bool), ok bool) {
	done, err := cb.gb.Allow()
	// only ErrOpenState or ErrTooManyRequests
	if err != nil {
		return nil, false
	}
	return done, true
}

func (cb *CircuitBreaker) State() State {
	return fromGobreaker(cb.gb.State())
}
