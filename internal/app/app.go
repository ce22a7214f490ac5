// Package app assembles the bot: config, logging, storage, calendar source,
// reminder scan, and the Telegram command surface. There are no ambient
// singletons; every component receives its collaborators at construction.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planman/internal/calendar"
	"planman/internal/config"
	"planman/internal/reminder"
	"planman/internal/router"
	"planman/internal/storage"
	kit "planman/internal/transport"
	"planman/internal/transport/telegram"
	"planman/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	source  *calendar.Google
	adapter *telegram.Adapter
	rem     *reminder.Service
	router  *router.Router

	updates chan kit.Message

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	storePath := cfg.Storage.Path
	if storePath == "" {
		storePath = "./planman.db"
	}
	store, err := storage.Open(storage.Config{
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	source, err := calendar.NewGoogle(calendar.GoogleConfig{
		CredentialsFile: cfg.Google.CredentialsFile,
		MaxResults:      int64(cfg.Google.MaxResults),
	}, log.With(logx.String("comp", "calendar")))
	if err != nil {
		return nil, fmt.Errorf("calendar source: %w", err)
	}

	remCfg, err := mapReminder(cfg)
	if err != nil {
		return nil, err
	}
	rem := reminder.New(remCfg, store, source, tgNotifier{adapter},
		log.With(logx.String("comp", "reminder")))

	rt := router.New(router.Deps{
		Adapter:     adapter,
		Store:       store,
		Source:      source,
		Auth:        source,
		Log:         log.With(logx.String("comp", "router")),
		MenuMarkup:  menuMarkup(),
		BotUsername: adapter.Username,
	})

	return &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		store:   store,
		source:  source,
		adapter: adapter,
		rem:     rem,
		router:  rt,
		updates: make(chan kit.Message, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(runCtx, a.updates)
	}()

	a.rem.Start(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.log.Info("started")
	return nil
}

// reloadLoop re-applies logging and reminder settings when the config file
// changes on disk. Telegram token and storage path changes need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(mapLogging(cfg))
			remCfg, err := mapReminder(cfg)
			if err != nil {
				a.log.Warn("reload: bad reminder config, keeping previous", logx.Err(err))
				continue
			}
			a.rem.Apply(remCfg)
			a.log.Info("config applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	a.log.Info("stopping")
	cancel()

	a.rem.Stop(ctx)
	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("closing storage", logx.Err(err))
	}
	_ = a.logs.Close()
	return nil
}

// tgNotifier delivers reminders over the Telegram adapter. In direct chats
// the chat id equals the user id.
type tgNotifier struct{ ad kit.Adapter }

func (n tgNotifier) Send(ctx context.Context, userID int64, text string) error {
	return n.ad.SendText(ctx, userID, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
}

func menuMarkup() any {
	return telegram.MenuKeyboard([][]string{
		{"/events", "/history"},
		{"/set_reminder 15", "/help"},
		{"/auth"},
	})
}

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapReminder(cfg *config.Config) (reminder.Config, error) {
	interval, err := config.ParseDurationOrDefault("reminder.interval", cfg.Reminder.Interval, 5*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	tolerance, err := config.ParseDurationOrDefault("reminder.tolerance", cfg.Reminder.Tolerance, 2*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	callTimeout, err := config.ParseDurationOrDefault("reminder.call_timeout", cfg.Reminder.CallTimeout, 30*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("reminder.dedup_window", cfg.Reminder.DedupWindow)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:       cfg.Reminder.Enabled,
		Interval:      interval,
		Tolerance:     tolerance,
		DefaultOffset: cfg.Reminder.DefaultOffset,
		Workers:       cfg.Reminder.Workers,
		RatePerSec:    cfg.Reminder.RatePerSec,
		CallTimeout:   callTimeout,
		DedupWindow:   dedupWindow,
	}, nil
}
