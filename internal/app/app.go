// Package app wires the bot together: config, logging, catalog, storage,
// the Telegram adapter and the engines behind it. Construction is explicit;
// every collaborator is passed where it is used.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"menubot/internal/broadcast"
	"menubot/internal/catalog"
	"menubot/internal/config"
	"menubot/internal/router"
	"menubot/internal/session"
	"menubot/internal/stats"
	"menubot/internal/store"
	kit "menubot/internal/transport"
	"menubot/internal/transport/telegram"
	"menubot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	catalog  *catalog.Catalog
	store    store.Store
	sessions *session.Store

	adapter   kit.Adapter
	broadcast *broadcast.Engine
	router    *router.Router

	cron    *cron.Cron
	updates chan kit.Update

	cancel context.CancelFunc
	loops  sync.WaitGroup
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
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	cat, err := catalog.Load(cfg.Data.Dir, cfg.Bot.BackExclusions, log.With(logx.String("comp", "catalog")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	st, err := store.Open(cfg.Data.DBPath, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}

	loc := cfg.Location()
	now := func() store.Period { return store.PeriodOf(time.Now(), loc) }
	sessions := session.NewStore()

	statsEng := stats.New(st, cat, sessions, now, log.With(logx.String("comp", "stats")))
	bcast := broadcast.New(ad, st, cat, sessions, broadcast.Config{
		Concurrency: cfg.Broadcast.Concurrency,
		RatePerSec:  float64(cfg.Broadcast.RatePerSec),
	}, now, log)

	rt := router.New(router.Deps{
		Adapter:       ad,
		Store:         st,
		Catalog:       cat,
		Sessions:      sessions,
		Stats:         statsEng,
		Broadcast:     bcast,
		Log:           log,
		AdminChatID:   cfg.Telegram.AdminChatID,
		DefaultAnswer: cfg.Bot.DefaultAnswer,
		Now:           now,
	})

	return &App{
		cfgm:      cfgm,
		cfg:       cfg,
		log:       log,
		logs:      logSvc,
		catalog:   cat,
		store:     st,
		sessions:  sessions,
		adapter:   ad,
		broadcast: bcast,
		router:    rt,
		updates:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	a.startLoops(ctx)

	if a.cfg.Backup.Enabled {
		if err := a.startBackups(); err != nil {
			return err
		}
	}

	a.log.Info("bot started",
		logx.String("db", a.store.Path()),
		logx.Bool("backups", a.cfg.Backup.Enabled))
	return nil
}

// startLoops launches the background loops. All Adds happen before any
// goroutine starts, so Stop's Wait can never race a late Add.
func (a *App) startLoops(ctx context.Context) {
	a.loops.Add(3)
	go func() {
		defer a.loops.Done()
		a.updateLoop(ctx)
	}()
	go func() {
		defer a.loops.Done()
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.loops.Done()
		a.applyConfigUpdates(ctx)
	}()
}

// updateLoop fans updates out one goroutine per update, so a slow handler
// (a rate-limited broadcast edit, a storage hiccup) never delays the rest.
func (a *App) updateLoop(ctx context.Context) {
	var handlers sync.WaitGroup
	defer handlers.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.updates:
			handlers.Add(1)
			go func(u kit.Update) {
				defer handlers.Done()
				a.router.Route(ctx, u)
			}(u)
		}
	}
}

// applyConfigUpdates consumes reloaded snapshots. Only logging settings
// take effect at runtime; anything else needs a restart and is just logged.
func (a *App) applyConfigUpdates(ctx context.Context) {
	updates := a.cfgm.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded; non-logging changes apply on restart")
		}
	}
}

func (a *App) startBackups() error {
	c := cron.New(cron.WithLocation(a.cfg.Location()))
	dir := a.cfg.Backup.Dir
	_, err := c.AddFunc(a.cfg.Backup.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		dst := filepath.Join(dir, fmt.Sprintf("bot-%s.db", time.Now().Format("20060102-150405")))
		if err := a.store.BackupTo(ctx, dst); err != nil {
			a.log.Error("backup failed", logx.Err(err))
			return
		}
		a.log.Info("backup written", logx.String("path", dst))
	})
	if err != nil {
		return fmt.Errorf("backup schedule %q: %w", a.cfg.Backup.Schedule, err)
	}
	c.Start()
	a.cron = c
	return nil
}

// Stop shuts down in dependency order: no new updates, drain handlers and
// in-flight broadcasts, then release storage and logging.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	a.loops.Wait()
	a.broadcast.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	return a.logs.Close()
}
