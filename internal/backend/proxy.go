package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/rule-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/rule-proxy/internal/outcome"
)

// Result describes how one forwarded exchange ended.
type Result struct {
	Status    int
	Kind      outcome.Kind
	Err       error
	RequestID string
	// Aborted is set when the upstream failed after the response headers had
	// been sent; the caller should abort the client connection.
	Aborted bool
}

// Forwarder relays requests to arbitrary upstream URLs over one shared
// transport. It is safe for concurrent use.
type Forwarder struct {
	logger   *slog.Logger
	proxy    *httputil.ReverseProxy
	breakers *circuitbreaker.Registry
	via      string
	inFlight atomic.Int64
}

type stateKey struct{}

// forwardState carries per-request data through the ReverseProxy hooks.
type forwardState struct {
	inbound   context.Context
	target    *url.URL
	requestID string
	err       *UpstreamError
}

// New builds a Forwarder. breakers may be nil to disable circuit breaking.
func New(cfg Config, transport http.RoundTripper, breakers *circuitbreaker.Registry, logger *slog.Logger) *Forwarder {
	f := &Forwarder{
		logger:   logger,
		breakers: breakers,
		via:      cfg.Via,
	}

	f.proxy = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      transport,
		FlushInterval:  -1,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}

	return f
}

// InFlight is the number of exchanges currently in progress.
func (f *Forwarder) InFlight() int64 {
	return f.inFlight.Load()
}

// Forward sends r to target and streams the upstream response to w. A
// timeout of zero leaves only the inbound request context in charge.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, target *url.URL, timeout time.Duration) (res Result) {
	done, ok := f.breakers.Allow(target.Host)
	if !ok {
		uerr := &UpstreamError{
			Kind:   outcome.KindCircuitOpen,
			Status: http.StatusServiceUnavailable,
			Target: target.String(),
			Err:    errCircuitOpen,
		}
		http.Error(w, "Upstream temporarily unavailable", uerr.Status)
		return Result{Status: uerr.Status, Kind: uerr.Kind, Err: uerr}
	}

	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	st := &forwardState{inbound: r.Context(), target: target}

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, stateKey{}, st)

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	defer func() {
		res.RequestID = st.requestID
		if st.err != nil {
			res.Kind = st.err.Kind
			res.Err = st.err
		}
		done(st.err == nil || !st.err.countsAgainstHost())
	}()

	defer func() {
		// ReverseProxy panics with ErrAbortHandler when the body copy fails
		// after headers were sent.
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler {
				panic(p)
			}
			res.Status = rec.statusCode
			res.Aborted = true
			if st.err != nil {
				return
			}
			if ctx.Err() != nil {
				st.err = classify(st.inbound, ctx, target.String(), ctx.Err())
			} else {
				st.err = &UpstreamError{
					Kind:   outcome.KindBadGateway,
					Status: http.StatusBadGateway,
					Target: target.String(),
					Err:    errBodyInterrupted,
				}
			}
		}
	}()

	f.proxy.ServeHTTP(rec, r.WithContext(ctx))

	res.Status = rec.statusCode
	return res
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	st := pr.In.Context().Value(stateKey{}).(*forwardState)

	target := *st.target
	pr.Out.URL = &target
	pr.Out.Host = ""

	removeHopHeaders(pr.Out.Header)
	pr.SetXForwarded()

	if pr.In.Header.Get("X-Real-IP") == "" {
		pr.Out.Header.Set("X-Real-IP", remoteIP(pr.In))
	}

	st.requestID = pr.In.Header.Get("X-Request-Id")
	if st.requestID == "" {
		st.requestID = uuid.NewString()
		pr.Out.Header.Set("X-Request-Id", st.requestID)
	}
}

func (f *Forwarder) modifyResponse(res *http.Response) error {
	removeHopHeaders(res.Header)
	res.Header.Add("Via", fmt.Sprintf("%d.%d %s", res.ProtoMajor, res.ProtoMinor, f.via))
	return nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	st := r.Context().Value(stateKey{}).(*forwardState)
	uerr := classify(st.inbound, r.Context(), st.target.String(), err)
	st.err = uerr

	if uerr.Kind == outcome.KindClientClosed {
		f.logger.Debug("Client went away before upstream answered",
			slog.String("target", uerr.Target))
		w.WriteHeader(uerr.Status)
		return
	}

	f.logger.Warn("Upstream request failed",
		slog.String("target", uerr.Target),
		slog.String("kind", string(uerr.Kind)),
		slog.Any("error", err))

	http.Error(w, http.StatusText(uerr.Status), uerr.Status)
}
