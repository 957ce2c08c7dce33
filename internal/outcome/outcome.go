// Package outcome defines the per-request record handed to status reporting
// and the error kinds the dispatcher can end a request with.
package outcome

import "time"

type Kind string

const (
	KindNone                Kind = ""
	KindDecodeError         Kind = "DecodeError"
	KindNoRuleMatched       Kind = "NoRuleMatched"
	KindResolutionError     Kind = "ResolutionError"
	KindUpstreamUnreachable Kind = "UpstreamUnreachable"
	KindUpstreamTimeout     Kind = "UpstreamTimeout"
	KindBadGateway          Kind = "BadGateway"
	KindCircuitOpen         Kind = "CircuitOpen"
	KindClientClosed        Kind = "ClientClosedRequest"
)

// DirectRuleID identifies requests served in direct-proxy mode.
const DirectRuleID = "direct"

// Outcome describes one completed proxy request. RuleID is empty when no
// rule matched.
type Outcome struct {
	RuleID    string
	Method    string
	Path      string
	Target    string
	Status    int
	Duration  time.Duration
	Kind      Kind
	Timestamp time.Time
}

func (o Outcome) Failed() bool {
	return o.Kind != KindNone
}

// Recorder receives one Outcome per completed request. Implementations must
// not block the caller.
type Recorder interface {
	Record(Outcome)
}

type RecorderFunc func(Outcome)

func (f RecorderFunc) Record(o Outcome) {
	f(o)
}

// Discard drops every outcome.
var Discard Recorder = RecorderFunc(func(Outcome) {})
