// Package scheduler drives the two process-lifetime cycles: the
// short-interval notify loop and the fixed-daily-time aggregation, with a
// catch-up run at startup when the last scheduled aggregation was missed.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dfobot/internal/neople"
	logx "dfobot/pkg/logx"
)

type Config struct {
	// NotifyEvery is the near-real-time poll period.
	NotifyEvery time.Duration
	// DailyAt is the daily aggregation boundary as "HH:MM" (KST).
	DailyAt string
}

// Runner is the watch engine contract.
type Runner interface {
	RunNotifyCycle(ctx context.Context) error
	RunDailyAggregation(ctx context.Context, start, end time.Time) error
}

// RunLog persists aggregation run times (append-only, newest read back).
type RunLog interface {
	LastAggregationRun(ctx context.Context) (string, bool, error)
	AppendAggregationRun(ctx context.Context, stamp string) error
}

type Service struct {
	cfg    Config
	hour   int
	minute int

	runner Runner
	runs   RunLog
	log    logx.Logger
	now    func() time.Time

	mu sync.Mutex
	c  *cron.Cron
	wg sync.WaitGroup

	// Mark running for overlap control (shared state between cron
	// invocations).
	jobMu      sync.Mutex
	notifyBusy bool
}

func New(cfg Config, runner Runner, runs RunLog, log logx.Logger) (*Service, error) {
	if cfg.NotifyEvery <= 0 {
		cfg.NotifyEvery = 2 * time.Minute
	}
	if strings.TrimSpace(cfg.DailyAt) == "" {
		cfg.DailyAt = "06:00"
	}
	h, m, err := parseHHMM(cfg.DailyAt)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		hour:   h,
		minute: m,
		runner: runner,
		runs:   runs,
		log:    log,
		now:    time.Now,
	}, nil
}

// Start registers both cycles and kicks off the catch-up check. Neither
// cycle ever terminates on its own; job errors are logged, never fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(neople.KST))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.NotifyEvery), func() {
		s.runNotify(ctx)
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(fmt.Sprintf("%d %d * * *", s.minute, s.hour), func() {
		s.runDaily(ctx)
	}); err != nil {
		return err
	}

	s.c = c

	// Catch-up check runs once, concurrently with the normal loops: the
	// next cron firing is a full boundary away, so there is no overlap.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.catchUp(ctx)
	}()

	c.Start()
	s.log.Info("scheduler started",
		logx.Duration("notify_every", s.cfg.NotifyEvery),
		logx.String("daily_at", s.cfg.DailyAt))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// runNotify executes one notify cycle unless the previous one is still in
// flight. Cron fires on the period regardless of cycle duration, and a
// cycle with slow retries can outlive it; a second concurrent cycle would
// race the first on the per-character watermarks.
func (s *Service) runNotify(ctx context.Context) {
	s.jobMu.Lock()
	if s.notifyBusy {
		s.jobMu.Unlock()
		s.log.Warn("previous notify cycle still running, skipping this tick")
		return
	}
	s.notifyBusy = true
	s.jobMu.Unlock()
	defer func() {
		s.jobMu.Lock()
		s.notifyBusy = false
		s.jobMu.Unlock()
	}()

	if err := s.runner.RunNotifyCycle(ctx); err != nil {
		s.log.Warn("notify cycle failed", logx.Err(err))
	}
}

// runDaily executes one scheduled aggregation for the window ending at the
// most recent boundary, and records the run on success.
func (s *Service) runDaily(ctx context.Context) {
	now := s.now().In(neople.KST)
	boundary := s.prevBoundary(now)
	start, end := aggregationWindow(boundary)

	if err := s.runner.RunDailyAggregation(ctx, start, end); err != nil {
		s.log.Warn("daily aggregation failed", logx.Err(err))
		return
	}
	if err := s.runs.AppendAggregationRun(ctx, neople.FormatStamp(now)); err != nil {
		s.log.Warn("recording aggregation run failed", logx.Err(err))
	}
}

// catchUp runs the daily aggregation immediately when no run has happened
// since the most recent boundary (e.g. the process was down at 06:00).
// At most one missed report is recovered, never the whole backlog.
func (s *Service) catchUp(ctx context.Context) {
	now := s.now().In(neople.KST)
	boundary := s.prevBoundary(now)

	stamp, ok, err := s.runs.LastAggregationRun(ctx)
	if err != nil {
		s.log.Warn("reading aggregation run log failed, skipping catch-up", logx.Err(err))
		return
	}

	var last time.Time
	if ok {
		last, err = neople.ParseStamp(stamp)
		if err != nil {
			s.log.Warn("aggregation run stamp is malformed, treating as missing",
				logx.String("stamp", stamp))
			ok = false
		}
	}

	if !needsCatchUp(last, ok, boundary) {
		s.log.Debug("daily aggregation already ran for current boundary",
			logx.Time("boundary", boundary))
		return
	}

	s.log.Info("missed daily aggregation detected, running catch-up",
		logx.Time("boundary", boundary))
	s.runDaily(ctx)
}

// needsCatchUp reports whether the last recorded run predates the most
// recent boundary (or never happened).
func needsCatchUp(last time.Time, recorded bool, boundary time.Time) bool {
	if !recorded {
		return true
	}
	return last.Before(boundary)
}

// prevBoundary returns the most recent daily boundary at or before t.
func (s *Service) prevBoundary(t time.Time) time.Time {
	b := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, t.Location())
	if b.After(t) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// aggregationWindow is [boundary-24h, boundary-1s]: the full previous day
// up to one tick before the boundary instant.
func aggregationWindow(boundary time.Time) (start, end time.Time) {
	return boundary.AddDate(0, 0, -1), boundary.Add(-time.Second)
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
