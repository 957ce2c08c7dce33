package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/rule-proxy/config"
	"github.com/angeloszaimis/rule-proxy/internal/admin"
	"github.com/angeloszaimis/rule-proxy/internal/backend"
	"github.com/angeloszaimis/rule-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/handler"
	"github.com/angeloszaimis/rule-proxy/internal/httpserver"
	"github.com/angeloszaimis/rule-proxy/internal/metrics"
	"github.com/angeloszaimis/rule-proxy/internal/reconciler"
	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
	"github.com/angeloszaimis/rule-proxy/internal/store"
)

type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *store.Store
	table     *ruletable.Table
	collector *metrics.Collector
	proxy     *httpserver.Server
	admin     *httpserver.Server
}

// newApp opens the store, loads the rule table and builds both listeners.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, log *slog.Logger, db *store.Store) (*app, error) {
	prefix, err := direct.NormalizePrefix(cfg.Proxy.DirectPrefix)
	if err != nil {
		return nil, err
	}
	// a prefix changed through the admin API survives restarts
	prefix, err = db.EnsureSetting(ctx, store.SettingDirectProxyPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("read direct prefix: %w", err)
	}
	decoder, err := direct.NewDecoder(prefix)
	if err != nil {
		return nil, fmt.Errorf("stored direct prefix: %w", err)
	}

	table := ruletable.New(log, db)
	rules, err := db.LoadAllRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if err := table.Load(rules); err != nil {
		log.Warn("Some stored rules were skipped", slog.Any("error", err))
	}

	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, reg, log)

	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout, log).
		WithMaxHosts(cfg.CircuitBreaker.MaxHosts)

	fwdCfg := backend.Config{
		DialTimeout:         cfg.Proxy.DialTimeout,
		MaxIdleConnsPerHost: cfg.Proxy.MaxIdleConnsPerHost,
		Via:                 cfg.Proxy.Via,
	}
	forwarder := backend.New(fwdCfg, backend.NewTransport(fwdCfg), breakers, log)

	if err := registerGauges(reg, table, forwarder); err != nil {
		return nil, err
	}

	proxyHandler := handler.NewProxyHandler(log, table, decoder, forwarder, collector, handler.Options{
		HealthPath:     cfg.Proxy.HealthPath,
		DefaultTimeout: cfg.Proxy.DefaultTimeout,
	})

	api := admin.New(log, admin.Options{
		Table:     table,
		Decoder:   decoder,
		Settings:  db,
		Metrics:   collector,
		Registry:  reg,
		ProxyAddr: cfg.Server.Address,
		InFlight:  forwarder.InFlight,
		Breakers:  breakers,
	})

	proxySrv, err := httpserver.New("proxy", cfg.Server.Address, proxyHandler, httpserver.Timeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Idle:     cfg.Server.IdleTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("proxy listener: %w", err)
	}

	adminSrv, err := httpserver.New("admin", cfg.Server.AdminAddress, setupRouter(api), httpserver.DefaultTimeouts, log)
	if err != nil {
		return nil, fmt.Errorf("admin listener: %w", err)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		store:     db,
		table:     table,
		collector: collector,
		proxy:     proxySrv,
		admin:     adminSrv,
	}, nil
}

func registerGauges(reg prometheus.Registerer, table *ruletable.Table, forwarder *backend.Forwarder) error {
	return errors.Join(
		metrics.GaugeFunc(reg, "rules", "Rules in the table.", func() float64 {
			return float64(table.Snapshot().Len())
		}),
		metrics.GaugeFunc(reg, "rules_enabled", "Enabled rules in the table.", func() float64 {
			return float64(table.Snapshot().EnabledLen())
		}),
		metrics.GaugeFunc(reg, "rules_unsynced", "Rules whose stored copy may be stale.", func() float64 {
			return float64(table.DirtyCount())
		}),
		metrics.GaugeFunc(reg, "in_flight_requests", "Upstream exchanges in progress.", func() float64 {
			return float64(forwarder.InFlight())
		}),
	)
}

// run blocks until ctx is done or a component fails. Listeners stop first;
// the persistence queue and the collector drain after them.
func (a *app) run(ctx context.Context) error {
	a.log.Info("Starting rule proxy",
		slog.String("proxy", a.cfg.Server.Address),
		slog.String("admin", a.cfg.Server.AdminAddress),
		slog.Int("rules", a.table.Snapshot().Len()))

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	background, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	workers, workersCtx := errgroup.WithContext(background)
	workers.Go(func() error { return a.table.Run(workersCtx) })
	workers.Go(func() error { return a.collector.Run(workersCtx) })

	servers, serversCtx := errgroup.WithContext(serveCtx)
	servers.Go(func() error { return a.proxy.Run(serversCtx) })
	servers.Go(func() error { return a.admin.Run(serversCtx) })
	servers.Go(func() error {
		return reconciler.Run(serversCtx, a.table, a.cfg.Reconcile.Interval, a.log)
	})

	err := servers.Wait()

	stopBackground()
	if werr := workers.Wait(); werr != nil {
		err = errors.Join(err, werr)
	}

	a.log.Info("Rule proxy stopped")
	return err
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Closing rule store failed", slog.Any("error", err))
	}
}
