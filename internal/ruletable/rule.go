package ruletable

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/dimfeld/httppath"

	"github.com/angeloszaimis/rule-proxy/internal/pattern"
)

var ErrRuleNotFound = errors.New("rule not found")

// Rule maps a source path template to a target URL template. Timeout zero
// means the dispatcher default applies. Seq records creation order and is
// owned by the table.
type Rule struct {
	ID        string
	Name      string
	Source    string
	Target    string
	Enabled   bool
	Timeout   time.Duration
	Seq       uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type entry struct {
	rule    Rule
	pattern *pattern.Pattern
	target  *pattern.Template
}

func compile(rule Rule) (*entry, error) {
	p, err := pattern.Compile(rule.Source)
	if err != nil {
		return nil, err
	}

	t, err := pattern.CompileTemplate(rule.Target)
	if err != nil {
		return nil, err
	}

	return &entry{rule: rule, pattern: p, target: t}, nil
}

// withRule returns a copy sharing the compiled pattern and template.
func (e *entry) withRule(rule Rule) *entry {
	return &entry{rule: rule, pattern: e.pattern, target: e.target}
}

// less orders by descending specificity, then ascending creation order.
func less(a, b *entry) bool {
	sa, sb := a.pattern.Specificity(), b.pattern.Specificity()
	if sa != sb {
		return sa > sb
	}
	return a.rule.Seq < b.rule.Seq
}

// Match is the result of a successful lookup.
type Match struct {
	Rule     Rule
	Captures pattern.Captures
	target   *pattern.Template
}

// Resolve builds the upstream URL for this match.
func (m Match) Resolve(rawQuery string) (*url.URL, error) {
	return m.target.Resolve(m.Captures, rawQuery)
}

// NormalizePath collapses duplicate slashes and dot segments and strips the
// trailing slash of every path except the root. The input is expected to be
// percent-decoded already, as net/http does for URL.Path.
func NormalizePath(path string) string {
	path = httppath.Clean(path)
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
