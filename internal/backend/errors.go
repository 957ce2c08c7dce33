package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/angeloszaimis/rule-proxy/internal/outcome"
)

// StatusClientClosedRequest is recorded when the client goes away before the
// upstream answers. Nothing is written to the client in that case.
const StatusClientClosedRequest = 499

// UpstreamError is a failed exchange with an upstream.
type UpstreamError struct {
	Kind   outcome.Kind
	Status int
	Target string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Target, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// countsAgainstHost reports whether the failure says something about the
// upstream's health.
func (e *UpstreamError) countsAgainstHost() bool {
	switch e.Kind {
	case outcome.KindUpstreamUnreachable, outcome.KindUpstreamTimeout, outcome.KindBadGateway:
		return true
	default:
		return false
	}
}

var (
	errCircuitOpen     = errors.New("circuit breaker open")
	errBodyInterrupted = errors.New("upstream response body interrupted")
)

// classify maps a transport error to an UpstreamError. inbound is the
// request context before the per-call deadline was added, call the context
// the exchange ran under.
func classify(inbound, call context.Context, target string, err error) *UpstreamError {
	uerr := &UpstreamError{Target: target, Err: err}

	var (
		netErr net.Error
		opErr  *net.OpError
		dnsErr *net.DNSError
	)

	switch {
	case inbound.Err() != nil:
		uerr.Kind, uerr.Status = outcome.KindClientClosed, StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(call.Err(), context.DeadlineExceeded):
		uerr.Kind, uerr.Status = outcome.KindUpstreamTimeout, http.StatusGatewayTimeout
	case errors.As(err, &dnsErr):
		uerr.Kind, uerr.Status = outcome.KindUpstreamUnreachable, http.StatusBadGateway
	case errors.As(err, &opErr) && opErr.Op == "dial":
		if opErr.Timeout() {
			uerr.Kind, uerr.Status = outcome.KindUpstreamTimeout, http.StatusGatewayTimeout
		} else {
			uerr.Kind, uerr.Status = outcome.KindUpstreamUnreachable, http.StatusBadGateway
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		uerr.Kind, uerr.Status = outcome.KindUpstreamTimeout, http.StatusGatewayTimeout
	default:
		uerr.Kind, uerr.Status = outcome.KindBadGateway, http.StatusBadGateway
	}

	return uerr
}
