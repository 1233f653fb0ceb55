package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dfobot/internal/neople"
	logx "dfobot/pkg/logx"
)

type fakeRunner struct {
	mu       sync.Mutex
	daily    [][2]time.Time
	dailyErr error

	notifyCalls   int
	notifyStarted chan struct{}
	notifyRelease chan struct{}
}

func (r *fakeRunner) RunNotifyCycle(context.Context) error {
	r.mu.Lock()
	r.notifyCalls++
	started, release := r.notifyStarted, r.notifyRelease
	r.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return nil
}

func (r *fakeRunner) notifyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifyCalls
}

func (r *fakeRunner) RunDailyAggregation(_ context.Context, start, end time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dailyErr != nil {
		return r.dailyErr
	}
	r.daily = append(r.daily, [2]time.Time{start, end})
	return nil
}

func (r *fakeRunner) dailyRuns() [][2]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]time.Time(nil), r.daily...)
}

type fakeRunLog struct {
	mu      sync.Mutex
	stamps  []string
	readErr error
}

func (l *fakeRunLog) LastAggregationRun(context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return "", false, l.readErr
	}
	if len(l.stamps) == 0 {
		return "", false, nil
	}
	return l.stamps[len(l.stamps)-1], true, nil
}

func (l *fakeRunLog) AppendAggregationRun(_ context.Context, stamp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = append(l.stamps, stamp)
	return nil
}

func newTestService(t *testing.T, runner *fakeRunner, runs *fakeRunLog, now time.Time) *Service {
	t.Helper()
	s, err := New(Config{NotifyEvery: time.Hour, DailyAt: "06:00"}, runner, runs, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestNotifyTickSkippedWhileCycleInFlight(t *testing.T) {
	runner := &fakeRunner{
		notifyStarted: make(chan struct{}, 1),
		notifyRelease: make(chan struct{}),
	}
	now := time.Date(2025, 3, 9, 12, 30, 0, 0, neople.KST)
	s := newTestService(t, runner, &fakeRunLog{}, now)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runNotify(ctx)
	}()
	<-runner.notifyStarted

	// The next tick fires while the first cycle is still in flight.
	s.runNotify(ctx)
	if got := runner.notifyCount(); got != 1 {
		t.Fatalf("notify ran %d times, want 1 (overlapping tick must be skipped)", got)
	}

	close(runner.notifyRelease)
	<-done

	// After the slow cycle drains, ticks run again.
	runner.mu.Lock()
	runner.notifyStarted, runner.notifyRelease = nil, nil
	runner.mu.Unlock()
	s.runNotify(ctx)
	if got := runner.notifyCount(); got != 2 {
		t.Fatalf("notify ran %d times after drain, want 2", got)
	}
}

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "06:00", h: 6, m: 0},
		{in: "23:59", h: 23, m: 59},
		{in: "0:5", h: 0, m: 5},
		{in: "24:00", wantErr: true},
		{in: "06:60", wantErr: true},
		{in: "0600", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, c := range cases {
		h, m, err := parseHHMM(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseHHMM(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHHMM(%q): %v", c.in, err)
			continue
		}
		if h != c.h || m != c.m {
			t.Errorf("parseHHMM(%q) = (%d, %d), want (%d, %d)", c.in, h, m, c.h, c.m)
		}
	}
}

func TestPrevBoundary(t *testing.T) {
	s := newTestService(t, &fakeRunner{}, &fakeRunLog{}, time.Time{})

	after := time.Date(2025, 3, 9, 12, 30, 0, 0, neople.KST)
	if b := s.prevBoundary(after); !b.Equal(time.Date(2025, 3, 9, 6, 0, 0, 0, neople.KST)) {
		t.Fatalf("after-boundary: got %v", b)
	}

	before := time.Date(2025, 3, 9, 5, 30, 0, 0, neople.KST)
	if b := s.prevBoundary(before); !b.Equal(time.Date(2025, 3, 8, 6, 0, 0, 0, neople.KST)) {
		t.Fatalf("before-boundary: got %v", b)
	}

	exact := time.Date(2025, 3, 9, 6, 0, 0, 0, neople.KST)
	if b := s.prevBoundary(exact); !b.Equal(exact) {
		t.Fatalf("at-boundary: got %v", b)
	}
}

func TestAggregationWindow(t *testing.T) {
	boundary := time.Date(2025, 3, 9, 6, 0, 0, 0, neople.KST)
	start, end := aggregationWindow(boundary)
	if !start.Equal(time.Date(2025, 3, 8, 6, 0, 0, 0, neople.KST)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(time.Date(2025, 3, 9, 5, 59, 59, 0, neople.KST)) {
		t.Fatalf("end = %v", end)
	}
}

func TestNeedsCatchUp(t *testing.T) {
	boundary := time.Date(2025, 3, 9, 6, 0, 0, 0, neople.KST)

	if !needsCatchUp(time.Time{}, false, boundary) {
		t.Fatalf("no recorded run must trigger catch-up")
	}
	if !needsCatchUp(boundary.Add(-time.Hour), true, boundary) {
		t.Fatalf("run before the boundary must trigger catch-up")
	}
	if needsCatchUp(boundary, true, boundary) {
		t.Fatalf("run at the boundary must not trigger catch-up")
	}
	if needsCatchUp(boundary.Add(time.Hour), true, boundary) {
		t.Fatalf("run after the boundary must not trigger catch-up")
	}
}

func TestCatchUpRunsExactlyOneMissedReport(t *testing.T) {
	runner := &fakeRunner{}
	runs := &fakeRunLog{}
	// Last run three days ago; only the most recent boundary is recovered.
	runs.stamps = []string{"20250306T0600"}
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, neople.KST)
	s := newTestService(t, runner, runs, now)

	s.catchUp(context.Background())

	got := runner.dailyRuns()
	if len(got) != 1 {
		t.Fatalf("catch-up ran %d aggregations, want 1", len(got))
	}
	wantStart := time.Date(2025, 3, 8, 6, 0, 0, 0, neople.KST)
	wantEnd := time.Date(2025, 3, 9, 5, 59, 59, 0, neople.KST)
	if !got[0][0].Equal(wantStart) || !got[0][1].Equal(wantEnd) {
		t.Fatalf("catch-up window = [%v, %v]", got[0][0], got[0][1])
	}

	stamp, ok, _ := runs.LastAggregationRun(context.Background())
	if !ok || stamp != neople.FormatStamp(now) {
		t.Fatalf("run not recorded: (%q, %v)", stamp, ok)
	}
}

func TestCatchUpSkipsWhenCurrent(t *testing.T) {
	runner := &fakeRunner{}
	runs := &fakeRunLog{stamps: []string{"20250309T0600"}}
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, neople.KST)
	s := newTestService(t, runner, runs, now)

	s.catchUp(context.Background())
	if got := runner.dailyRuns(); len(got) != 0 {
		t.Fatalf("catch-up ran %d aggregations, want 0", len(got))
	}
}

func TestCatchUpSkipsOnRunLogReadError(t *testing.T) {
	runner := &fakeRunner{}
	runs := &fakeRunLog{readErr: errors.New("db closed")}
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, neople.KST)
	s := newTestService(t, runner, runs, now)

	s.catchUp(context.Background())
	if got := runner.dailyRuns(); len(got) != 0 {
		t.Fatalf("unreadable run log must not double-run, got %d", len(got))
	}
}

func TestCatchUpTreatsMalformedStampAsMissing(t *testing.T) {
	runner := &fakeRunner{}
	runs := &fakeRunLog{stamps: []string{"not-a-stamp"}}
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, neople.KST)
	s := newTestService(t, runner, runs, now)

	s.catchUp(context.Background())
	if got := runner.dailyRuns(); len(got) != 1 {
		t.Fatalf("malformed stamp should trigger catch-up, got %d runs", len(got))
	}
}

func TestRunDailyDoesNotRecordFailedRuns(t *testing.T) {
	runner := &fakeRunner{dailyErr: errors.New("publish failed")}
	runs := &fakeRunLog{}
	now := time.Date(2025, 3, 9, 6, 0, 0, 0, neople.KST)
	s := newTestService(t, runner, runs, now)

	s.runDaily(context.Background())
	if _, ok, _ := runs.LastAggregationRun(context.Background()); ok {
		t.Fatalf("failed aggregation must not be recorded")
	}
}

func TestNewRejectsBadDailyAt(t *testing.T) {
	if _, err := New(Config{DailyAt: "25:00"}, &fakeRunner{}, &fakeRunLog{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for invalid daily time")
	}
}
