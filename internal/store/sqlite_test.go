package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/remote-playwright/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestLaunch(engine model.Engine) *model.Launch {
	for _, opts := range model.DefaultPlan("http://proxy.example:8080") {
		if opts.Engine == engine {
			l := model.NewLaunch("run-1", opts)
			l.CreatedAt = l.CreatedAt.Truncate(time.Second)
			return l
		}
	}
	panic("unknown engine " + string(engine))
}

func createLaunch(t *testing.T, s *SQLiteStore, l *model.Launch) {
	t.Helper()
	if err := s.CreateLaunch(context.Background(), l); err != nil {
		t.Fatalf("CreateLaunch: %v", err)
	}
}

func TestCreateAndGetLaunch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineFirefox)
	createLaunch(t, s, l)

	got, err := s.GetLaunch(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLaunch: %v", err)
	}

	if got.ID != l.ID || got.RunID != "run-1" {
		t.Errorf("ids = %q/%q, want %q/run-1", got.ID, got.RunID, l.ID)
	}
	if got.Engine != model.EngineFirefox {
		t.Errorf("Engine = %q, want firefox", got.Engine)
	}
	if got.Port != model.PortFirefox {
		t.Errorf("Port = %d, want %d", got.Port, model.PortFirefox)
	}
	if got.WSPath != "firefox" {
		t.Errorf("WSPath = %q, want firefox", got.WSPath)
	}
	if got.Proxy != "http://proxy.example:8080" {
		t.Errorf("Proxy = %q", got.Proxy)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.PID != nil || got.DurationMS != nil || got.ReadyAt != nil || got.StoppedAt != nil {
		t.Errorf("unset fields populated: %+v", got)
	}
	if !got.CreatedAt.Equal(l.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, l.CreatedAt)
	}
}

func TestGetLaunchNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLaunch(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLaunch error = %v, want ErrNotFound", err)
	}
}

func TestListLaunchesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l := makeTestLaunch(model.EngineChromium)
		l.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		createLaunch(t, s, l)
	}

	launches, total, err := s.ListLaunches(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListLaunches: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(launches) != 2 {
		t.Errorf("len(launches) = %d, want 2", len(launches))
	}

	launches, _, err = s.ListLaunches(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListLaunches page 3: %v", err)
	}
	if len(launches) != 1 {
		t.Errorf("len(launches) page 3 = %d, want 1", len(launches))
	}
}

func TestListLaunchesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same timestamp: insertion order decides.
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for _, e := range model.Engines {
		l := makeTestLaunch(e)
		l.CreatedAt = created
		createLaunch(t, s, l)
		ids = append(ids, l.ID)
	}

	launches, _, err := s.ListLaunches(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListLaunches: %v", err)
	}
	if len(launches) != 3 {
		t.Fatalf("len(launches) = %d, want 3", len(launches))
	}
	for i, l := range launches {
		if want := ids[len(ids)-1-i]; l.ID != want {
			t.Errorf("launches[%d] = %s (%s), want %s", i, l.ID, l.Engine, want)
		}
	}
}

func TestListLaunchesEmpty(t *testing.T) {
	s := newTestStore(t)

	launches, total, err := s.ListLaunches(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListLaunches: %v", err)
	}
	if total != 0 || len(launches) != 0 {
		t.Errorf("got %d launches, total %d; want none", len(launches), total)
	}
}

func TestUpdateLaunchStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineWebKit)
	createLaunch(t, s, l)

	if err := s.UpdateLaunchStatus(ctx, l.ID, model.StatusStarting); err != nil {
		t.Fatalf("pending→starting: %v", err)
	}
	if err := s.MarkReady(ctx, l.ID, "ws://127.0.0.1:1012/webkit", 4242, 1500*time.Millisecond); err != nil {
		t.Fatalf("starting→ready: %v", err)
	}

	got, err := s.GetLaunch(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLaunch: %v", err)
	}
	if got.Status != model.StatusReady {
		t.Errorf("Status = %q, want ready", got.Status)
	}
	if got.Endpoint != "ws://127.0.0.1:1012/webkit" {
		t.Errorf("Endpoint = %q", got.Endpoint)
	}
	if got.PID == nil || *got.PID != 4242 {
		t.Errorf("PID = %v, want 4242", got.PID)
	}
	if got.DurationMS == nil || *got.DurationMS != 1500 {
		t.Errorf("DurationMS = %v, want 1500", got.DurationMS)
	}
	if got.ReadyAt == nil {
		t.Error("ReadyAt not set")
	}

	if err := s.UpdateLaunchStatus(ctx, l.ID, model.StatusStopped); err != nil {
		t.Fatalf("ready→stopped: %v", err)
	}
	got, _ = s.GetLaunch(ctx, l.ID)
	if got.StoppedAt == nil {
		t.Error("StoppedAt not set after stop")
	}
}

func TestMarkReadyWithoutPID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineChromium)
	createLaunch(t, s, l)

	s.UpdateLaunchStatus(ctx, l.ID, model.StatusStarting)
	if err := s.MarkReady(ctx, l.ID, "ws://remote/chromium", 0, time.Second); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}

	got, _ := s.GetLaunch(ctx, l.ID)
	if got.PID != nil {
		t.Errorf("PID = %d, want nil for a remote server", *got.PID)
	}
}

func TestMarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineFirefox)
	createLaunch(t, s, l)

	s.UpdateLaunchStatus(ctx, l.ID, model.StatusStarting)
	if err := s.MarkFailed(ctx, l.ID, errors.New("browserType.launchServer: boom"), 250*time.Millisecond); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := s.GetLaunch(ctx, l.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "browserType.launchServer: boom" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.DurationMS == nil || *got.DurationMS != 250 {
		t.Errorf("DurationMS = %v, want 250", got.DurationMS)
	}
}

func TestMarkFailedFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineWebKit)
	createLaunch(t, s, l)

	if err := s.MarkFailed(ctx, l.ID, errors.New("not started"), 0); err != nil {
		t.Fatalf("pending→failed: %v", err)
	}
}

func TestUpdateLaunchStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpdateLaunchStatus(ctx, "nonexistent", model.StatusStarting); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateLaunchStatus error = %v, want ErrNotFound", err)
	}
	if err := s.MarkReady(ctx, "nonexistent", "ws://x", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkReady error = %v, want ErrNotFound", err)
	}
}

func TestUpdateLaunchStatusInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to string
	}{
		{"pending→ready", model.StatusPending, model.StatusReady},
		{"pending→stopped", model.StatusPending, model.StatusStopped},
		{"starting→stopped", model.StatusStarting, model.StatusStopped},
		{"ready→failed", model.StatusReady, model.StatusFailed},
		{"failed→starting", model.StatusFailed, model.StatusStarting},
		{"stopped→ready", model.StatusStopped, model.StatusReady},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := makeTestLaunch(model.EngineChromium)
			l.Status = tc.from
			createLaunch(t, s, l)

			err := s.UpdateLaunchStatus(ctx, l.ID, tc.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("got error %v, want ErrInvalidTransition", err)
			}

			got, _ := s.GetLaunch(ctx, l.ID)
			if got.Status != tc.from {
				t.Errorf("status changed to %q after rejected transition", got.Status)
			}
		})
	}
}

func TestMarkReadyAfterFailureRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineChromium)
	l.Status = model.StatusFailed
	createLaunch(t, s, l)

	err := s.MarkReady(ctx, l.ID, "ws://127.0.0.1:1010/chromium", 1, time.Second)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkReady error = %v, want ErrInvalidTransition", err)
	}
}

func TestGetLaunchStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	durations := map[model.Engine]time.Duration{
		model.EngineChromium: 1000 * time.Millisecond,
		model.EngineWebKit:   3000 * time.Millisecond,
	}
	for _, e := range model.Engines {
		l := makeTestLaunch(e)
		createLaunch(t, s, l)
		s.UpdateLaunchStatus(ctx, l.ID, model.StatusStarting)
		if d, ok := durations[e]; ok {
			if err := s.MarkReady(ctx, l.ID, "ws://x/"+string(e), 1, d); err != nil {
				t.Fatalf("MarkReady: %v", err)
			}
		} else if err := s.MarkFailed(ctx, l.ID, errors.New("rejected"), 10*time.Second); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}

	stats, err := s.GetLaunchStats(ctx)
	if err != nil {
		t.Fatalf("GetLaunchStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusReady] != 2 || stats.CountByStatus[model.StatusFailed] != 1 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	for _, e := range model.Engines {
		if stats.CountByEngine[string(e)] != 1 {
			t.Errorf("CountByEngine[%s] = %d, want 1", e, stats.CountByEngine[string(e)])
		}
	}
	// Failed launches do not count towards time to ready.
	if stats.AvgDurationMS != 2000 {
		t.Errorf("AvgDurationMS = %v, want 2000", stats.AvgDurationMS)
	}
}

func TestGetLaunchStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetLaunchStats(context.Background())
	if err != nil {
		t.Fatalf("GetLaunchStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgDurationMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if stats.CountByStatus == nil || stats.CountByEngine == nil {
		t.Error("count maps must be non-nil for JSON output")
	}
}

func TestInsertAndGetLogLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := makeTestLaunch(model.EngineChromium)
	createLaunch(t, s, l)

	// Out-of-order inserts come back ordered by seq.
	for _, seq := range []int{2, 0, 1} {
		if err := s.InsertLogLine(ctx, l.ID, seq, "line "+string(rune('a'+seq))); err != nil {
			t.Fatalf("InsertLogLine: %v", err)
		}
	}

	lines, err := s.GetLogLines(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for i, ll := range lines {
		if ll.Seq != i {
			t.Errorf("lines[%d].Seq = %d", i, ll.Seq)
		}
		if want := "line " + string(rune('a'+i)); ll.Line != want {
			t.Errorf("lines[%d].Line = %q, want %q", i, ll.Line, want)
		}
		if ll.LaunchID != l.ID {
			t.Errorf("lines[%d].LaunchID = %q", i, ll.LaunchID)
		}
	}
}

func TestGetLogLinesIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := makeTestLaunch(model.EngineChromium)
	b := makeTestLaunch(model.EngineFirefox)
	createLaunch(t, s, a)
	createLaunch(t, s, b)

	s.InsertLogLine(ctx, a.ID, 0, "chromium line")
	s.InsertLogLine(ctx, b.ID, 0, "firefox line")

	lines, err := s.GetLogLines(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 1 || lines[0].Line != "firefox line" {
		t.Errorf("lines = %+v, want only the firefox line", lines)
	}

	empty, err := s.GetLogLines(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d lines for unknown launch", len(empty))
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launches.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	l := makeTestLaunch(model.EngineWebKit)
	if err := s1.CreateLaunch(ctx, l); err != nil {
		t.Fatalf("CreateLaunch: %v", err)
	}
	s1.Close()

	// Reopening runs the migrations again against existing tables.
	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetLaunch(ctx, l.ID); err != nil {
		t.Errorf("GetLaunch after reopen: %v", err)
	}
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "launches.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var launches []*model.Launch
	for _, e := range model.Engines {
		l := makeTestLaunch(e)
		createLaunch(t, s, l)
		launches = append(launches, l)
	}

	const lines = 50
	errCh := make(chan error, lines+len(launches))
	var wg sync.WaitGroup
	for i := range lines {
		wg.Go(func() {
			if err := s.InsertLogLine(ctx, launches[0].ID, i, fmt.Sprintf("line %d", i)); err != nil {
				errCh <- err
			}
		})
	}
	for _, l := range launches {
		wg.Go(func() {
			for _, step := range []func() error{
				func() error { return s.UpdateLaunchStatus(ctx, l.ID, model.StatusStarting) },
				func() error { return s.MarkReady(ctx, l.ID, "ws://127.0.0.1:1/"+l.WSPath, 0, time.Millisecond) },
				func() error { return s.UpdateLaunchStatus(ctx, l.ID, model.StatusStopped) },
			} {
				if err := step(); err != nil {
					errCh <- fmt.Errorf("%s: %w", l.Engine, err)
					return
				}
			}
		})
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent write: %v", err)
	}

	got, err := s.GetLogLines(ctx, launches[0].ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(got) != lines {
		t.Errorf("got %d log lines, want %d", len(got), lines)
	}
	for _, l := range launches {
		rec, err := s.GetLaunch(ctx, l.ID)
		if err != nil {
			t.Fatalf("GetLaunch: %v", err)
		}
		if rec.Status != model.StatusStopped {
			t.Errorf("%s status = %q, want stopped", l.Engine, rec.Status)
		}
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ":memory:"},
		{"/var/lib/rpw.db", "/var/lib/rpw.db?_pragma=busy_timeout%285000%29&_pragma=journal_mode%28WAL%29&_txlock=immediate"},
		{"file:rpw.db?cache=shared", "file:rpw.db?cache=shared&_pragma=busy_timeout%285000%29&_pragma=journal_mode%28WAL%29&_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
