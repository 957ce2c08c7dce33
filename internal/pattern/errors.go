package pattern

import "fmt"

// PatternError reports a malformed source or target template. Segment holds
// the offending segment or placeholder when one can be named.
type PatternError struct {
	Template string
	Segment  string
	Reason   string
}

func (e *PatternError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("invalid pattern %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("invalid pattern %q: segment %q: %s", e.Template, e.Segment, e.Reason)
}

// ResolutionError reports a target template that could not be turned into
// an upstream URL for a given capture set.
type ResolutionError struct {
	Template    string
	Placeholder string
	Reason      string
}

func (e *ResolutionError) Error() string {
	if e.Placeholder == "" {
		return fmt.Sprintf("cannot resolve target %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("cannot resolve target %q: placeholder %q: %s", e.Template, e.Placeholder, e.Reason)
}
