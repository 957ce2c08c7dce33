package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/rule-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/metrics"
	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
	"github.com/angeloszaimis/rule-proxy/internal/store"
)

// SettingsStore is implemented by *store.Store.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]store.Setting, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Options carries the collaborators of the admin API. Settings, Metrics,
// Registry, InFlight and Breakers may be nil.
type Options struct {
	Table     *ruletable.Table
	Decoder   *direct.Decoder
	Settings  SettingsStore
	Metrics   *metrics.Collector
	Registry  *prometheus.Registry
	ProxyAddr string
	InFlight  func() int64
	Breakers  *circuitbreaker.Registry
}

type API struct {
	logger *slog.Logger
	opts   Options
}

func New(logger *slog.Logger, opts Options) *API {
	return &API{logger: logger, opts: opts}
}

// Routes returns the admin mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/rules", a.listRules)
	mux.HandleFunc("POST /api/rules", a.createRule)
	mux.HandleFunc("GET /api/rules/{id}", a.getRule)
	mux.HandleFunc("PUT /api/rules/{id}", a.updateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", a.deleteRule)
	mux.HandleFunc("POST /api/rules/{id}/toggle", a.toggleRule)

	mux.HandleFunc("GET /api/configs", a.listConfigs)
	mux.HandleFunc("PUT /api/configs/{key}", a.updateConfig)

	mux.HandleFunc("GET /api/status", a.status)

	if a.opts.Metrics != nil {
		mux.HandleFunc("GET /api/metrics", a.opts.Metrics.Handler())
	}
	if a.opts.Registry != nil {
		mux.Handle("GET /metrics", metrics.PrometheusHandler(a.opts.Registry))
	}

	return mux
}
