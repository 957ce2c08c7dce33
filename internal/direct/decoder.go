package direct

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// DecodeError reports a direct-mode path whose remainder is not a usable
// absolute URL.
type DecodeError struct {
	Raw    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid direct target %q: %s", e.Raw, e.Reason)
}

// Decoder matches and decodes direct-mode paths. The prefix can be changed at
// runtime; readers never lock.
type Decoder struct {
	prefix atomic.Pointer[string]
}

func NewDecoder(prefix string) (*Decoder, error) {
	d := &Decoder{}
	if err := d.SetPrefix(prefix); err != nil {
		return nil, err
	}
	return d, nil
}

// NormalizePrefix turns "proxy", "/proxy" or "/proxy/" into "/proxy/".
func NormalizePrefix(prefix string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return "", fmt.Errorf("direct prefix %q is empty", prefix)
	}
	if strings.ContainsAny(trimmed, "?#{} ") {
		return "", fmt.Errorf("direct prefix %q contains reserved characters", prefix)
	}
	return "/" + trimmed + "/", nil
}

func (d *Decoder) SetPrefix(prefix string) error {
	normalized, err := NormalizePrefix(prefix)
	if err != nil {
		return err
	}
	d.prefix.Store(&normalized)
	return nil
}

func (d *Decoder) Prefix() string {
	return *d.prefix.Load()
}

// Matches reports whether path is a direct-mode path.
func (d *Decoder) Matches(path string) bool {
	return strings.HasPrefix(path, d.Prefix())
}

// Decode takes everything after the prefix verbatim as the upstream URL and
// appends rawQuery. path should be the escaped request path so that the
// target keeps its own encoding.
func (d *Decoder) Decode(path, rawQuery string) (*url.URL, error) {
	prefix := d.Prefix()
	if !strings.HasPrefix(path, prefix) {
		return nil, &DecodeError{Raw: path, Reason: "missing prefix " + prefix}
	}
	return Decode(path[len(prefix):], rawQuery)
}

// Decode parses raw as an absolute http or https URL.
func Decode(raw, rawQuery string) (*url.URL, error) {
	full := raw
	if rawQuery != "" {
		full += "?" + rawQuery
	}

	u, err := url.Parse(full)
	if err != nil {
		return nil, &DecodeError{Raw: full, Reason: err.Error()}
	}
	if !u.IsAbs() {
		return nil, &DecodeError{Raw: full, Reason: "not an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &DecodeError{Raw: full, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Host == "" {
		return nil, &DecodeError{Raw: full, Reason: "missing host"}
	}

	return u, nil
}
