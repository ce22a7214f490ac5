// Package reminder runs the recurring calendar scan and sends one-shot event
// reminders through the notifier.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"planman/internal/calendar"
	"planman/internal/storage"
	"planman/pkg/logx"
)

// Notifier delivers a rendered reminder to a user. Delivery failures are
// logged by the service and not retried within the same tick.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}

type Config struct {
	Enabled bool
	// Interval between scan ticks. Default 5m.
	Interval time.Duration
	// Tolerance on both sides of the user's offset. Default 2m.
	Tolerance time.Duration
	// DefaultOffset is used for users who never set one. Default 15 minutes.
	DefaultOffset int
	// Workers bounds per-user fan-out within one tick. Default 4.
	Workers int
	// RatePerSec bounds calendar API calls across all users. Default 5.
	RatePerSec int
	// CallTimeout bounds each calendar fetch so one unreachable user cannot
	// stall the tick. Default 30s.
	CallTimeout time.Duration
	// DedupWindow suppresses repeat reminders for the same (user, event)
	// within the window. 0 disables suppression: an event that stays inside
	// the reminder window across two ticks is notified on both.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 2 * time.Minute
	}
	if c.DefaultOffset <= 0 {
		c.DefaultOffset = 15
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Service owns the recurring scan. Overlapping ticks are skipped, never
// queued, so a slow tick cannot build a backlog.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	store  storage.Store
	source calendar.Source
	notif  Notifier

	limiter *rate.Limiter

	c         *cron.Cron
	parent    context.Context
	runCtx    context.Context
	runCancel context.CancelFunc

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, store storage.Store, source calendar.Source, notif Notifier, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		store:   store,
		source:  source,
		notif:   notif,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	// parent is kept even while disabled so a config reload can enable the
	// scan later.
	s.parent = ctx
	if !s.cfg.Enabled {
		s.log.Info("reminder scan disabled")
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	runCtx := s.runCtx
	s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		s.RunScanTick(runCtx)
	}))
	s.c.Start()
	s.log.Info("reminder scan started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("tolerance", s.cfg.Tolerance),
		logx.Int("workers", s.cfg.Workers))
}

// Stop cancels the current tick (if any) and prevents new ones. It waits for
// the running tick up to the context deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("reminder scan stopped")
}

// Apply updates the runtime config. An interval change restarts the timer;
// everything else takes effect on the next tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	oldInterval := s.cfg.Interval
	running := s.c != nil
	parent := s.parent
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()

	if parent == nil || parent.Err() != nil {
		return
	}
	switch {
	case running && (!cfg.Enabled || cfg.Interval != oldInterval):
		s.Stop(context.Background())
		if cfg.Enabled {
			s.Start(parent)
		}
	case !running && cfg.Enabled:
		s.Start(parent)
	}
}

// RunScanTick performs one scan across all users with stored credentials.
// Failures are contained per user (or per event) and never abort the tick.
func (s *Service) RunScanTick(ctx context.Context) {
	// Snapshot config and limiter together: Apply may swap both mid-tick.
	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()

	started := s.now()
	users, err := s.store.GetAll(ctx)
	if err != nil {
		s.log.Error("scan tick: listing users failed", logx.Err(err))
		return
	}

	now := s.now().UTC()
	jobs := make(chan storage.UserRecord)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				s.scanUser(ctx, cfg, limiter, u, now)
			}
		}()
	}

	scanned := 0
	for _, u := range users {
		if u.Token == "" {
			continue
		}
		select {
		case jobs <- u:
			scanned++
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()

	s.log.Debug("scan tick done",
		logx.Int("users", scanned),
		logx.Duration("took", s.now().Sub(started)))
}

// scanUser fetches one user's upcoming events and notifies matches. Any
// failure, including a panic, is logged and confined to this user.
func (s *Service) scanUser(ctx context.Context, cfg Config, limiter *rate.Limiter, u storage.UserRecord, now time.Time) {
	log := s.log.With(logx.Int64("user_id", u.UserID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic scanning user", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := limiter.Wait(ctx); err != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	events, refreshed, err := s.source.Upcoming(cctx, u.Token)
	if refreshed != "" {
		if werr := s.store.UpsertToken(ctx, u.UserID, refreshed); werr != nil {
			log.Error("persisting refreshed credential failed", logx.Err(werr))
		}
	}
	if err != nil {
		// Auth problems are only surfaced on direct commands; during a scan
		// the user is skipped and retried naturally on the next tick.
		if errors.Is(err, calendar.ErrAuthExpired) {
			log.Warn("skipping user: authorization expired")
		} else {
			log.Error("skipping user: calendar fetch failed", logx.Err(err))
		}
		return
	}

	// Zero is a legal offset (remind at event start); only invalid negative
	// values fall back to the default.
	offset := u.RemindMinutes
	if offset < 0 {
		offset = cfg.DefaultOffset
	}

	for _, ev := range events {
		if !Matches(now, ev.Start, offset, cfg.Tolerance) {
			continue
		}
		if cfg.DedupWindow > 0 && ev.ID != "" {
			key := fmt.Sprintf("%d:%s", u.UserID, ev.ID)
			if seen, derr := s.store.WasNotified(ctx, key); derr == nil && seen {
				continue
			}
			if derr := s.store.MarkNotified(ctx, key, now.Add(cfg.DedupWindow)); derr != nil {
				log.Error("recording dedup key failed", logx.String("event_id", ev.ID), logx.Err(derr))
			}
		}
		if err := s.notif.Send(ctx, u.UserID, FormatReminder(ev)); err != nil {
			log.Error("reminder delivery failed", logx.String("event_id", ev.ID), logx.Err(err))
			continue
		}
		log.Info("reminder sent",
			logx.String("event_id", ev.ID),
			logx.Time("event_start", ev.Start),
			logx.Int("offset_min", offset))
	}
}

// cronLogger adapts logx to the cron.Logger interface used by the job chain
// wrappers.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
