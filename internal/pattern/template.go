package pattern

import (
	"net/url"
	"strings"
)

// Capture is one named value taken from a matched request path.
type Capture struct {
	Name  string
	Value string
}

// Captures keeps the capture order of the pattern that produced them.
type Captures []Capture

func (c Captures) Get(name string) (string, bool) {
	for _, capture := range c {
		if capture.Name == name {
			return capture.Value, true
		}
	}
	return "", false
}

func (c Captures) Map() map[string]string {
	m := make(map[string]string, len(c))
	for _, capture := range c {
		m[capture.Name] = capture.Value
	}
	return m
}

type token struct {
	text        string
	name        string
	placeholder bool
}

// Template is a compiled target URL template such as
// "https://backend:8443/users/{id}?view={view}".
type Template struct {
	raw    string
	tokens []token
}

// CompileTemplate checks placeholder syntax. Placeholder names are not
// checked against any pattern here; an unknown name fails in Resolve.
func CompileTemplate(raw string) (*Template, error) {
	if raw == "" {
		return nil, &PatternError{Template: raw, Reason: "target template is empty"}
	}

	t := &Template{raw: raw}
	rest := raw

	for rest != "" {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			t.tokens = append(t.tokens, token{text: rest})
			break
		}
		if rest[open] == '}' {
			return nil, &PatternError{Template: raw, Segment: rest[:open+1], Reason: "unbalanced or misplaced braces"}
		}
		if open > 0 {
			t.tokens = append(t.tokens, token{text: rest[:open]})
		}

		end := strings.IndexAny(rest[open+1:], "{}")
		if end < 0 || rest[open+1+end] == '{' {
			return nil, &PatternError{Template: raw, Segment: rest[open:], Reason: "unbalanced or misplaced braces"}
		}
		end += open + 1

		placeholder := rest[open : end+1]
		name := strings.TrimPrefix(placeholder[1:len(placeholder)-1], "*")
		if reason := checkName(name); reason != "" {
			return nil, &PatternError{Template: raw, Segment: placeholder, Reason: reason}
		}

		t.tokens = append(t.tokens, token{text: placeholder, name: name, placeholder: true})
		rest = rest[end+1:]
	}

	return t, nil
}

func (t *Template) String() string {
	return t.raw
}

// Placeholders returns the capture names referenced by the template in order
// of appearance.
func (t *Template) Placeholders() []string {
	var names []string
	for _, tok := range t.tokens {
		if tok.placeholder {
			names = append(names, tok.name)
		}
	}
	return names
}

// Resolve substitutes captures into the template and appends rawQuery, the
// inbound query string, to whatever query the template already carries.
// Captures are decoded path text, so they are escaped for the part of the
// URL they land in and can never add a query, a fragment or an escape.
func (t *Template) Resolve(caps Captures, rawQuery string) (*url.URL, error) {
	var b strings.Builder
	b.Grow(len(t.raw))

	inQuery := false
	for _, tok := range t.tokens {
		if !tok.placeholder {
			b.WriteString(tok.text)
			inQuery = inQuery || strings.Contains(tok.text, "?")
			continue
		}

		value, ok := caps.Get(tok.name)
		if !ok {
			return nil, &ResolutionError{Template: t.raw, Placeholder: tok.text, Reason: "no capture with this name"}
		}
		b.WriteString(escapeCapture(value, inQuery))
	}

	resolved := b.String()
	u, err := url.Parse(resolved)
	if err != nil {
		return nil, &ResolutionError{Template: t.raw, Reason: "resolved target is not a valid URL: " + err.Error()}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &ResolutionError{Template: t.raw, Reason: "resolved target " + resolved + " is not an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ResolutionError{Template: t.raw, Reason: "unsupported scheme " + u.Scheme}
	}

	u.Fragment = ""
	u.RawFragment = ""
	if rawQuery != "" {
		if u.RawQuery == "" {
			u.RawQuery = rawQuery
		} else {
			u.RawQuery += "&" + rawQuery
		}
	}

	return u, nil
}

// escapeCapture escapes value for a query component, or segment by segment
// for the path so catch-all slashes survive.
func escapeCapture(value string, inQuery bool) string {
	if inQuery {
		return url.QueryEscape(value)
	}

	parts := strings.Split(value, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
