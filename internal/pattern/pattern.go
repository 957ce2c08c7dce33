package pattern

import (
	"regexp"
	"strings"
)

type Kind int

const (
	Literal Kind = iota
	Param
	CatchAll
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Param:
		return "param"
	case CatchAll:
		return "catch-all"
	default:
		return "unknown"
	}
}

// Segment is one compiled element of a source template. Text is the literal
// text for Literal segments and the capture name otherwise.
type Segment struct {
	Kind Kind
	Text string
}

// Pattern is the compiled form of a source template. It is immutable and safe
// for concurrent use.
type Pattern struct {
	source      string
	segments    []Segment
	specificity int
	catchAll    bool
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile parses a source template such as "/api/{version}/{*rest}".
func Compile(template string) (*Pattern, error) {
	if template == "" {
		return nil, &PatternError{Template: template, Reason: "template is empty"}
	}

	parts := splitTemplate(template)

	p := &Pattern{
		source:   template,
		segments: make([]Segment, 0, len(parts)),
	}
	seen := make(map[string]bool, len(parts))

	for i, part := range parts {
		if part == "" {
			return nil, &PatternError{Template: template, Reason: "empty path segment"}
		}

		seg, err := parseSegment(template, part)
		if err != nil {
			return nil, err
		}

		if seg.Kind != Literal {
			if seen[seg.Text] {
				return nil, &PatternError{Template: template, Segment: part, Reason: "duplicate capture name"}
			}
			seen[seg.Text] = true
		}

		switch seg.Kind {
		case Literal:
			p.specificity += 2
		case Param:
			p.specificity++
		case CatchAll:
			if i != len(parts)-1 {
				return nil, &PatternError{Template: template, Segment: part, Reason: "catch-all must be the last segment"}
			}
			p.specificity -= 10
			p.catchAll = true
		}

		p.segments = append(p.segments, seg)
	}

	return p, nil
}

// Source returns the template the pattern was compiled from.
func (p *Pattern) Source() string {
	return p.source
}

// Segments returns a copy of the compiled segments.
func (p *Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

func (p *Pattern) Specificity() int {
	return p.specificity
}

func (p *Pattern) HasCatchAll() bool {
	return p.catchAll
}

// Match compares the pattern against a path already split with SplitPath.
// A catch-all needs at least one remaining segment; an empty tail is not a
// match.
func (p *Pattern) Match(path []string) (Captures, bool) {
	n := len(p.segments)
	if p.catchAll {
		if len(path) < n {
			return nil, false
		}
	} else if len(path) != n {
		return nil, false
	}

	var caps Captures
	for i, seg := range p.segments {
		switch seg.Kind {
		case Literal:
			if path[i] != seg.Text {
				return nil, false
			}
		case Param:
			if path[i] == "" {
				return nil, false
			}
			caps = append(caps, Capture{Name: seg.Text, Value: path[i]})
		case CatchAll:
			tail := strings.Join(path[i:], "/")
			if tail == "" {
				return nil, false
			}
			caps = append(caps, Capture{Name: seg.Text, Value: tail})
		}
	}

	return caps, true
}

// SplitPath splits a normalized request path into its segments. The root
// path yields no segments.
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// splitTemplate drops the empty segments produced by a leading or a single
// trailing slash, so "/" compiles to the root pattern.
func splitTemplate(template string) []string {
	parts := strings.Split(template, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func parseSegment(template, part string) (Segment, error) {
	if !strings.ContainsAny(part, "{}") {
		return Segment{Kind: Literal, Text: part}, nil
	}

	if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") ||
		strings.Count(part, "{") != 1 || strings.Count(part, "}") != 1 {
		return Segment{}, &PatternError{Template: template, Segment: part, Reason: "unbalanced or misplaced braces"}
	}

	name := part[1 : len(part)-1]
	kind := Param
	if strings.HasPrefix(name, "*") {
		kind = CatchAll
		name = name[1:]
	}

	if err := checkName(name); err != "" {
		return Segment{}, &PatternError{Template: template, Segment: part, Reason: err}
	}

	return Segment{Kind: kind, Text: name}, nil
}

func checkName(name string) string {
	if name == "" {
		return "capture name is empty"
	}
	if !identifier.MatchString(name) {
		return "capture name is not a valid identifier"
	}
	return ""
}
