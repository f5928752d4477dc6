package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relinkd/internal/eventbus"
	"relinkd/internal/refresh"
	"relinkd/internal/storage"
	"relinkd/pkg/logx"
)

// memStore is an in-memory storage.Store for scheduler tests.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]storage.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]storage.Job{}}
}

func (m *memStore) Put(ctx context.Context, j storage.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *memStore) Remove(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memStore) Get(ctx context.Context, jobID string) (storage.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	return j, ok, nil
}

func (m *memStore) ListDue(ctx context.Context, before time.Time) ([]storage.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Job
	for _, j := range m.jobs {
		if j.State == storage.StateScheduled && !j.TriggerTime.After(before) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(ctx context.Context) ([]storage.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() map[string]storage.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]storage.Job, len(m.jobs))
	for k, v := range m.jobs {
		out[k] = v
	}
	return out
}

// fakeExec scripts refresh cycles. If block is non-nil, Refresh parks until
// the channel is closed, which lets tests observe the in-flight window.
type fakeExec struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	block   chan struct{}
	out     refresh.Outcome
	err     error
}

func (f *fakeExec) Refresh(ctx context.Context, folderID string) (refresh.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, folderID)
	started, block := f.started, f.block
	out, err := f.out, f.err
	f.mu.Unlock()
	if started != nil {
		started <- folderID
	}
	if block != nil {
		<-block
	}
	return out, err
}

func (f *fakeExec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePlanner struct {
	mu         sync.Mutex
	next       time.Time
	tracked    bool
	trackedErr error
	nextCalls  int
}

func (p *fakePlanner) ReconcileAll(ctx context.Context) error { return nil }

func (p *fakePlanner) NextDueFor(folderID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextCalls++
	return p.next
}

func (p *fakePlanner) Tracked(ctx context.Context, folderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracked, p.trackedErr
}

func (p *fakePlanner) nextDueCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextCalls
}

func newTestService(t *testing.T, store storage.Store, exec Executor, p Planner) *Service {
	t.Helper()
	svc := New(Config{
		MinDelay:   10 * time.Millisecond,
		SweepEvery: time.Hour,
	}, store, exec, eventbus.New(), logx.Nop())
	svc.SetPlanner(p)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduleSecondCallWins(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(t, store, &fakeExec{}, &fakePlanner{tracked: true})

	first := time.Now().Add(time.Hour)
	second := time.Now().Add(2 * time.Hour)
	if err := svc.Schedule(context.Background(), "f1", first); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := svc.Schedule(context.Background(), "f1", second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	jobs := store.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("want exactly one stored job, got %d", len(jobs))
	}
	j := jobs[storage.JobID("f1")]
	if !j.TriggerTime.Equal(second) {
		t.Fatalf("trigger = %v, want the second request %v", j.TriggerTime, second)
	}
	if j.State != storage.StateScheduled {
		t.Fatalf("state = %q", j.State)
	}

	snap := svc.Snapshot()
	if len(snap.Jobs) != 1 {
		t.Fatalf("snapshot jobs = %d, want 1", len(snap.Jobs))
	}
}

func TestFireDispatchesAndReschedulesAtPlannerTime(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{out: refresh.Outcome{RunID: "r1", Succeeded: 2}}
	next := time.Now().Add(20 * time.Hour).Truncate(time.Millisecond)
	planner := &fakePlanner{tracked: true, next: next}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, "refresh dispatch", func() bool { return exec.callCount() == 1 })
	waitFor(t, "planner reschedule", func() bool {
		j, ok := store.snapshot()[storage.JobID("f1")]
		return ok && j.State == storage.StateScheduled && j.TriggerTime.Equal(next)
	})
	if planner.nextDueCalls() != 1 {
		t.Fatalf("NextDueFor calls = %d, want 1", planner.nextDueCalls())
	}
}

func TestUntrackedFolderNotRescheduled(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	planner := &fakePlanner{tracked: false}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "gone", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, "refresh dispatch", func() bool { return exec.callCount() == 1 })
	waitFor(t, "job removal", func() bool { return len(store.snapshot()) == 0 })

	if n := len(svc.Snapshot().Jobs); n != 0 {
		t.Fatalf("snapshot jobs = %d, want 0", n)
	}
}

func TestScheduleWhileRunningIsDeferred(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{started: make(chan string, 1), block: make(chan struct{})}
	planner := &fakePlanner{tracked: true, next: time.Now().Add(time.Hour)}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	<-exec.started

	manual := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond)
	if err := svc.Schedule(context.Background(), "f1", manual); err != nil {
		t.Fatalf("Schedule while running: %v", err)
	}
	close(exec.block)

	waitFor(t, "deferred schedule to apply", func() bool {
		j, ok := store.snapshot()[storage.JobID("f1")]
		return ok && j.State == storage.StateScheduled && j.TriggerTime.Equal(manual)
	})
	// The parked request replaces the planner's answer, not adds to it.
	if planner.nextDueCalls() != 0 {
		t.Fatalf("NextDueFor calls = %d, want 0", planner.nextDueCalls())
	}
}

func TestCancelUnfiredJob(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(t, store, &fakeExec{}, &fakePlanner{tracked: true})

	if err := svc.Schedule(context.Background(), "f1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	ok, err := svc.Cancel(context.Background(), "f1")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("cancelled job must be removed from the store")
	}
	if ok, _ := svc.Cancel(context.Background(), "f1"); ok {
		t.Fatal("second cancel must report nothing to do")
	}
}

func TestCancelDoesNotInterruptInFlight(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{started: make(chan string, 1), block: make(chan struct{})}
	planner := &fakePlanner{tracked: true, next: time.Now().Add(time.Hour)}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	<-exec.started

	ok, err := svc.Cancel(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel must not claim to stop an in-flight cycle")
	}
	close(exec.block)

	waitFor(t, "cycle completion", func() bool {
		j, ok := store.snapshot()[storage.JobID("f1")]
		return ok && j.State == storage.StateScheduled
	})
}

func TestRestartRearmsInterruptedJob(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	// A row left in Running by a crashed process.
	_ = store.Put(context.Background(), storage.Job{
		ID:          storage.JobID("f1"),
		FolderID:    "f1",
		TriggerTime: time.Now().Add(-time.Hour),
		State:       storage.StateRunning,
	})

	exec := &fakeExec{}
	planner := &fakePlanner{tracked: true, next: time.Now().Add(time.Hour)}
	svc := New(Config{MinDelay: time.Hour, SweepEvery: time.Hour}, store, exec, eventbus.New(), logx.Nop())
	svc.SetPlanner(planner)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Stop)

	j, ok := store.snapshot()[storage.JobID("f1")]
	if !ok {
		t.Fatal("interrupted job must survive restart")
	}
	if j.State != storage.StateScheduled {
		t.Fatalf("state = %q, want re-armed as scheduled", j.State)
	}
	if !j.TriggerTime.After(time.Now().Add(30 * time.Minute)) {
		t.Fatalf("trigger = %v, want about MinDelay in the future", j.TriggerTime)
	}
	if exec.callCount() != 0 {
		t.Fatal("re-armed job must wait for its delay, not fire immediately")
	}
}

func TestTrackedCheckFailureLeavesRepairToSweep(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{}
	planner := &fakePlanner{trackedErr: errors.New("registry down")}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, "refresh dispatch", func() bool { return exec.callCount() == 1 })
	waitFor(t, "job removal", func() bool { return len(store.snapshot()) == 0 })

	// No reschedule happened; the periodic sweep owns the repair.
	if planner.nextDueCalls() != 0 {
		t.Fatalf("NextDueFor calls = %d, want 0", planner.nextDueCalls())
	}
}

func TestSnapshotSortedByTrigger(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := newTestService(t, store, &fakeExec{}, &fakePlanner{tracked: true})

	base := time.Now().Add(time.Hour)
	for _, f := range []struct {
		id string
		at time.Time
	}{
		{"c", base.Add(3 * time.Minute)},
		{"a", base.Add(time.Minute)},
		{"b", base.Add(2 * time.Minute)},
	} {
		if err := svc.Schedule(context.Background(), f.id, f.at); err != nil {
			t.Fatalf("Schedule %s: %v", f.id, err)
		}
	}

	snap := svc.Snapshot()
	if len(snap.Jobs) != 3 {
		t.Fatalf("snapshot jobs = %d, want 3", len(snap.Jobs))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if snap.Jobs[i].FolderID != w {
			t.Fatalf("jobs[%d] = %s, want %s", i, snap.Jobs[i].FolderID, w)
		}
	}
	if nt, ok := svc.NextTrigger(); !ok || nt.FolderID != "a" {
		t.Fatalf("NextTrigger = %+v, %v", nt, ok)
	}
}

func TestStopRightAfterStartReturns(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	svc := New(Config{MinDelay: 10 * time.Millisecond, SweepEvery: time.Hour},
		store, &fakeExec{}, eventbus.New(), logx.Nop())
	svc.SetPlanner(&fakePlanner{tracked: true})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stop races the loop goroutine's startup; it must still unblock it.
	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return; timer loop never exited")
	}

	// A stopped service restarts cleanly.
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	svc.Stop()
}

// gatedStore blocks the first Running upsert until released, exposing the
// window between a job leaving the heap and its Running row landing.
type gatedStore struct {
	*memStore
	enterPut chan struct{} // closed when the gated Put begins
	release  chan struct{}
	once     sync.Once
}

func (g *gatedStore) Put(ctx context.Context, j storage.Job) error {
	if j.State == storage.StateRunning {
		g.once.Do(func() {
			close(g.enterPut)
			<-g.release
		})
	}
	return g.memStore.Put(ctx, j)
}

func TestScheduleDuringFireWindowIsParked(t *testing.T) {
	t.Parallel()
	store := &gatedStore{
		memStore: newMemStore(),
		enterPut: make(chan struct{}),
		release:  make(chan struct{}),
	}
	exec := &fakeExec{started: make(chan string, 2), block: make(chan struct{})}
	planner := &fakePlanner{tracked: true, next: time.Now().Add(time.Hour)}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	// The loop has taken f1 off the heap and is persisting the Running row.
	<-store.enterPut

	manual := time.Now().Add(45 * time.Minute).Truncate(time.Millisecond)
	if err := svc.Schedule(context.Background(), "f1", manual); err != nil {
		t.Fatalf("Schedule in fire window: %v", err)
	}
	close(store.release)
	<-exec.started

	// The mid-window schedule must not have armed a second cycle.
	if got := exec.callCount(); got != 1 {
		t.Fatalf("Refresh invoked %d times during one cycle, want 1", got)
	}
	close(exec.block)

	waitFor(t, "parked schedule to apply", func() bool {
		j, ok := store.snapshot()[storage.JobID("f1")]
		return ok && j.State == storage.StateScheduled && j.TriggerTime.Equal(manual)
	})
	if got := exec.callCount(); got != 1 {
		t.Fatalf("Refresh invoked %d times, want 1", got)
	}
}

func TestHistoryRecordsCompletedCycles(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	exec := &fakeExec{out: refresh.Outcome{RunID: "run-1", Succeeded: 3, Failed: 1}}
	planner := &fakePlanner{tracked: true, next: time.Now().Add(time.Hour)}
	svc := newTestService(t, store, exec, planner)

	if err := svc.Schedule(context.Background(), "f1", time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, "history entry", func() bool { return len(svc.Snapshot().History) == 1 })

	h := svc.Snapshot().History[0]
	if h.RunID != "run-1" || h.FolderID != "f1" || h.Succeeded != 3 || h.Failed != 1 {
		t.Fatalf("history = %+v", h)
	}
	if h.Error != "" {
		t.Fatalf("unexpected error in history: %q", h.Error)
	}
}
