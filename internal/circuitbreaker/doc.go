// Package circuitbreaker keeps one breaker per upstream host so that a
// failing upstream is short-circuited instead of tying up proxy workers.
//
// A breaker has three states:
//
//   - CLOSED: requests pass through
//   - OPEN: the host failed too often in a row, requests are refused
//   - HALF-OPEN: after the reset timeout one trial request is let through
//
// The registry keeps at most DefaultMaxHosts breakers unless WithMaxHosts
// says otherwise, evicting the least recently used closed breaker first.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second, logger)
//	done, ok := registry.Allow("backend:8443")
//	if !ok {
//	    // refuse with 503
//	}
//	err := call()
//	done(err == nil)
package circuitbreaker
