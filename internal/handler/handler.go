package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/rule-proxy/internal/backend"
	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/outcome"
	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
)

const healthBody = "OK"

type Options struct {
	HealthPath     string
	DefaultTimeout time.Duration
}

// Forwarder is the part of backend.Forwarder the dispatcher needs.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, target *url.URL, timeout time.Duration) backend.Result
}

type ProxyHandler struct {
	logger    *slog.Logger
	table     *ruletable.Table
	decoder   *direct.Decoder
	forwarder Forwarder
	recorder  outcome.Recorder
	opts      Options
}

// NewProxyHandler wires the dispatcher. recorder may be nil.
func NewProxyHandler(
	logger *slog.Logger,
	table *ruletable.Table,
	decoder *direct.Decoder,
	forwarder Forwarder,
	recorder outcome.Recorder,
	opts Options,
) *ProxyHandler {
	if recorder == nil {
		recorder = outcome.Discard
	}
	return &ProxyHandler{
		logger:    logger,
		table:     table,
		decoder:   decoder,
		forwarder: forwarder,
		recorder:  recorder,
		opts:      opts,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.HealthPath != "" && r.URL.Path == h.opts.HealthPath {
		h.serveHealth(w)
		return
	}

	start := time.Now()
	out := outcome.Outcome{
		Method: r.Method,
		Path:   r.URL.Path,
	}

	var res backend.Result
	defer func() {
		out.Duration = time.Since(start)
		out.Timestamp = start
		h.recorder.Record(out)

		// keep the connection abort ReverseProxy asked for
		if res.Aborted {
			panic(http.ErrAbortHandler)
		}
	}()

	clientIP := extractClientIP(r)

	h.logger.Debug("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host))

	var (
		target  *url.URL
		timeout = h.opts.DefaultTimeout
	)

	escaped := r.URL.EscapedPath()
	if h.decoder != nil && h.decoder.Matches(escaped) {
		out.RuleID = outcome.DirectRuleID

		var err error
		target, err = h.decoder.Decode(escaped, r.URL.RawQuery)
		if err != nil {
			h.logger.Info("Rejected direct proxy request",
				slog.String("client", clientIP),
				slog.String("path", escaped),
				slog.Any("error", err))
			out.Status, out.Kind = h.fail(w, http.StatusBadRequest, outcome.KindDecodeError, err)
			return
		}
	} else {
		match, ok := h.table.Snapshot().Match(ruletable.NormalizePath(r.URL.Path))
		if !ok {
			out.Status, out.Kind = h.fail(w, http.StatusNotFound, outcome.KindNoRuleMatched, nil)
			return
		}
		out.RuleID = match.Rule.ID

		var err error
		target, err = match.Resolve(r.URL.RawQuery)
		if err != nil {
			h.logger.Warn("Target resolution failed",
				slog.String("rule_id", match.Rule.ID),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			out.Status, out.Kind = h.fail(w, http.StatusBadGateway, outcome.KindResolutionError, err)
			return
		}
		if match.Rule.Timeout > 0 {
			timeout = match.Rule.Timeout
		}
	}

	out.Target = target.String()

	h.logger.Debug("Forwarding request",
		slog.String("client", clientIP),
		slog.String("rule_id", out.RuleID),
		slog.String("target", out.Target))

	res = h.forwarder.Forward(w, r, target, timeout)
	out.Status = res.Status
	out.Kind = res.Kind
}

func (h *ProxyHandler) serveHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !h.table.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Rule table not loaded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthBody))
}

// fail writes a plain-text error response and returns what was sent.
func (h *ProxyHandler) fail(w http.ResponseWriter, status int, kind outcome.Kind, err error) (int, outcome.Kind) {
	msg := http.StatusText(status)
	switch {
	case kind == outcome.KindNoRuleMatched:
		msg = "No proxy rule matches this path"
	case err != nil:
		var derr *direct.DecodeError
		if errors.As(err, &derr) {
			msg = "Invalid direct proxy URL: " + derr.Reason
		}
	}
	http.Error(w, msg, status)
	return status, kind
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
