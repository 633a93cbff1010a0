// Package app wires the bridge together: config, logging, the helpdesk
// client, the notification registry, delivery adapters and the poll engine.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supportbridge/internal/botstate"
	"supportbridge/internal/config"
	"supportbridge/internal/delivery"
	"supportbridge/internal/helpdesk"
	"supportbridge/internal/notify"
	"supportbridge/internal/runtime/supervisor"
	"supportbridge/internal/store"
	logx "supportbridge/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	registry store.Store
	desk     *helpdesk.Client
	states   *botstate.Client
	router   *delivery.Router
	engine   *notify.Engine
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	registry, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("storage.driver: the notification registry cannot be disabled")
	}

	deskTimeout, err := config.ParseDurationField("helpdesk.timeout", cfg.Helpdesk.Timeout)
	if err != nil {
		return nil, err
	}
	desk := helpdesk.New(helpdesk.Config{
		BaseURL:  cfg.Helpdesk.BaseURL,
		ClientID: cfg.Helpdesk.ClientID,
		Username: cfg.Helpdesk.Username,
		Password: cfg.Helpdesk.Password,
		Timeout:  deskTimeout,
	}, log.With(logx.String("comp", "helpdesk")))

	states := botstate.New(deskTimeout, log.With(logx.String("comp", "botstate")))

	router := delivery.NewRouter(delivery.NewConnector(deskTimeout, log.With(logx.String("comp", "connector"))))
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := delivery.NewTelegram(cfg.Telegram.Token, pollTimeout, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		router.Register("telegram", tg)
	}

	engine, err := notify.New(notify.Deps{
		Config:   cfgm,
		Events:   desk,
		Registry: registry,
		Sender:   router,
		States:   states.Fetch,
		Log:      log.With(logx.String("comp", "notify")),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		registry: registry,
		desk:     desk,
		states:   states,
		router:   router,
		engine:   engine,
	}, nil
}

// Engine exposes the notification engine so a hosting dialog layer can call
// Register per interaction.
func (a *App) Engine() *notify.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(ctx, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.engine.Start(a.sup.Context())

	a.log.Info("bridge started")
	return nil
}

// reloadLoop applies committed config changes to the running components:
// logging sinks, the helpdesk base URL, and the engine activation flag.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.desk.SetBaseURL(cfg.Helpdesk.BaseURL)

			if cfg.Notifier.Enabled && !a.engine.Running() {
				a.log.Info("notifier enabled via config")
				a.engine.Start(ctx)
			}
			// A disable is noticed by the poll loop itself on its next
			// iteration; nothing to stop here.

			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("shutdown incomplete", logx.Err(err))
		}
	}
	if err := a.registry.Close(); err != nil {
		a.log.Warn("registry close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
