// Package app assembles the service: ledger, policy store, event adapters,
// reviewer, decision engine, broker bridge, gateway, schedulers, and the
// HTTP API.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strike/internal/broker"
	"strike/internal/broker/rest"
	"strike/internal/config"
	"strike/internal/decision"
	"strike/internal/events"
	"strike/internal/gateway"
	"strike/internal/logger"
	"strike/internal/notifier"
	"strike/internal/policy"
	"strike/internal/reviewer"
	"strike/internal/risk"
	"strike/internal/scheduler"
	"strike/internal/store"
	apihttp "strike/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *config.Config
	cfgPath  string
	store    *store.Store
	policies *policy.Store
	events   *events.Service
	broker   broker.Adapter
	gateway  *gateway.Gateway
	engine   *decision.Engine
	server   *apihttp.Server
}

func New(ctx context.Context, cfg *config.Config, cfgPath string) (*App, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	policies := policy.NewStore(ctx, st)
	// Unconfigured sources stay nil interfaces so lookups degrade to the
	// unavailable sentinel instead of dialing nowhere.
	var earningsSrc events.EarningsSource
	if src := events.NewRESTEarnings(cfg.Events); src != nil {
		earningsSrc = src
	}
	var filingsSrc events.FilingSource
	if src := events.NewRESTFilings(cfg.Events); src != nil {
		filingsSrc = src
	}
	eventSvc := events.NewService(earningsSrc, filingsSrc, cfg.Events.EarningsTTL(), cfg.Events.FilingsTTL())
	review := reviewer.NewClient(cfg.Reviewer, cfg.App.Production())
	engine := decision.NewEngine(policies, review)
	riskEngine := risk.NewEngine(policies)

	bridge, err := rest.NewClient(cfg.Broker)
	if err != nil {
		st.Close()
		return nil, err
	}

	gw := gateway.New(cfg, bridge, st, policies, riskEngine, eventSvc)
	if cfg.Notify.Telegram.Enabled {
		gw.SetNotifier(notifier.NewAsync(notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)))
		logger.Infof("telegram notifications enabled")
	}

	router := apihttp.NewRouter(gw, engine, review, policies, st)
	server := apihttp.NewServer(cfg.App.HTTPAddr, router)

	return &App{
		cfg:      cfg,
		cfgPath:  cfgPath,
		store:    st,
		policies: policies,
		events:   eventSvc,
		broker:   bridge,
		gateway:  gw,
		engine:   engine,
		server:   server,
	}, nil
}

// Run serves until SIGINT/SIGTERM or a fatal component error, then shuts the
// HTTP server down gracefully and closes the ledger.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(ctx) })

	g.Go(func() error {
		s := scheduler.NewInterval("status-refresh", time.Duration(a.cfg.Sync.StatusRefreshSeconds)*time.Second)
		s.Start(ctx, func(ctx context.Context) {
			if err := a.gateway.RefreshBrokerStatuses(ctx); err != nil {
				logger.Warnf("status refresh sweep failed: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewInterval("account-sync", time.Duration(a.cfg.Sync.AccountSyncSeconds)*time.Second)
		s.RunImmediately = true
		s.Start(ctx, func(ctx context.Context) {
			if err := a.gateway.SyncAccountState(ctx); err != nil {
				logger.Warnf("account sync failed: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewInterval("exit-sweep", time.Duration(a.cfg.Sync.ExitSweepSeconds)*time.Second)
		s.Start(ctx, func(ctx context.Context) {
			if _, err := a.gateway.RunExitAutomation(ctx); err != nil {
				logger.Warnf("exit sweep failed: %v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewInterval("connectivity", time.Duration(a.cfg.Sync.ConnectivitySeconds)*time.Second)
		s.RunImmediately = true
		s.Start(ctx, a.pollConnectivity)
		return nil
	})
	g.Go(func() error {
		if a.cfgPath == "" {
			return nil
		}
		return config.Watch(ctx, a.cfgPath, a.applyConfig)
	})

	err := g.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		logger.Warnf("closing ledger failed: %v", closeErr)
	}
	return err
}

func (a *App) pollConnectivity(ctx context.Context) {
	status, err := a.broker.GetConnectionStatus(ctx)
	if err != nil {
		status = broker.ConnectionStatus{Reachable: false}
	}
	a.gateway.NotifyConnectivity(ctx, status)
}

// applyConfig handles a hot config reload: log level immediately, broker
// caches through the gateway. Structural settings (addresses, store path)
// still need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	logger.SetLevel(cfg.App.LogLevel)
	if cfg.Broker != a.cfg.Broker {
		a.gateway.ReloadBrokerConfiguration(context.Background(), cfg.Broker.Mode)
	}
	a.cfg.App.LogLevel = cfg.App.LogLevel
	a.cfg.Broker = cfg.Broker
}
