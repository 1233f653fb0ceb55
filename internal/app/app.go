// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"sync"
	"time"

	telegram "dfobot/internal/adapters/telegram"
	"dfobot/internal/config"
	"dfobot/internal/fetch"
	"dfobot/internal/itemcache"
	"dfobot/internal/neople"
	"dfobot/internal/observability/pprof"
	"dfobot/internal/scheduler"
	"dfobot/internal/storage"
	"dfobot/internal/watch"
	logx "dfobot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	client  *neople.Client
	cache   *itemcache.Cache
	watcher *watch.Watcher
	sched   *scheduler.Service
	debug   *pprof.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
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
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	apiTimeout, err := config.ParseDurationOrDefault("neople.timeout", cfg.Neople.Timeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client, err := neople.New(neople.Config{
		APIKey:        cfg.Neople.APIKey,
		BaseURL:       cfg.Neople.BaseURL,
		Timeout:       apiTimeout,
		RatePerSec:    cfg.Neople.RatePerSec,
		TimelineCodes: cfg.Neople.TimelineCodes,
		TimelineLimit: cfg.Neople.TimelineLimit,
	}, logSvc.Logger().With(logx.String("comp", "neople")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cache := itemcache.New(store, client, logSvc.Logger().With(logx.String("comp", "itemcache")))

	// The notify retrier must give up well inside one poll period so a
	// flaky API cannot pile cycles on top of each other. The daily
	// retrier instead rides out long maintenance windows.
	notifyInterval, err := config.ParseDurationOrDefault("watch.notify_retry_interval", cfg.Watch.NotifyRetryInterval, 15*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifyCeiling, err := config.ParseDurationOrDefault("watch.notify_retry_ceiling", cfg.Watch.NotifyRetryCeiling, 90*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dailyInterval, err := config.ParseDurationOrDefault("watch.daily_retry_interval", cfg.Watch.DailyRetryInterval, time.Minute)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dailyCeiling, err := config.ParseDurationOrDefault("watch.daily_retry_ceiling", cfg.Watch.DailyRetryCeiling, 7*time.Hour)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetchLog := logSvc.Logger().With(logx.String("comp", "fetch"))
	notifyRetrier := fetch.NewRetrier(client, fetch.Config{Interval: notifyInterval, Ceiling: notifyCeiling}, fetchLog)
	dailyRetrier := fetch.NewRetrier(client, fetch.Config{Interval: dailyInterval, Ceiling: dailyCeiling}, fetchLog)

	out, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, store,
		logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	lookback, err := config.ParseDurationOrDefault("watch.lookback", cfg.Watch.Lookback, 30*time.Minute)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	watcher := watch.New(watch.Config{
		TargetLevel:      cfg.Watch.TargetLevel,
		Rarities:         cfg.Watch.Rarities,
		Weights:          cfg.Watch.Weights,
		Lookback:         lookback,
		FetchConcurrency: cfg.Watch.FetchConcurrency,
		ItemConcurrency:  cfg.Watch.ItemConcurrency,
	}, store, cache, notifyRetrier, dailyRetrier, out,
		logSvc.Logger().With(logx.String("comp", "watch")))

	notifyEvery, err := config.ParseDurationOrDefault("schedule.notify_every", cfg.Schedule.NotifyEvery, 2*time.Minute)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Config{
		NotifyEvery: notifyEvery,
		DailyAt:     cfg.Schedule.DailyAt,
	}, watcher, store, logSvc.Logger().With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	debug := pprof.New(pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}, logSvc.Logger().With(logx.String("comp", "pprof")))

	return &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		store:   store,
		client:  client,
		cache:   cache,
		watcher: watcher,
		sched:   sched,
		debug:   debug,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Warm the item cache so known items never hit the remote API again.
	// A failure here only means lazy misses later.
	if err := a.cache.Preload(runCtx); err != nil {
		a.log.Warn("item cache preload failed", logx.Err(err))
	} else {
		a.log.Info("item cache preloaded", logx.Int("items", a.cache.Len()))
	}

	// Live config: only the logging section applies without a restart.
	updates := a.cfgm.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok || cfg == nil {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied; other sections need a restart")
			}
		}
	}()

	if err := a.debug.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.sched.Start(runCtx); err != nil {
		a.debug.Stop(ctx)
		cancel()
		return err
	}

	a.started = true
	a.log.Info("dfobot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop(ctx)
	a.debug.Stop(ctx)
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store failed", logx.Err(err))
	}
	a.log.Info("dfobot stopped")
	return a.logs.Close()
}
