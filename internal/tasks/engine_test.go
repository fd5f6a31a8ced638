package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
)

func testItem(n int) models.Item {
	return models.Item{ID: fmt.Sprintf("item-%d", n), Name: fmt.Sprintf("backup-%d", n), Kind: models.ItemKindFiles}
}

func newTestEngine(t *testing.T, cfg Config, runner Runner) *Engine {
	t.Helper()
	e := NewEngine(cfg, runner, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitTask(t *testing.T, e *Engine, id string) (Task, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := e.Wait(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("task %s did not finish", id)
	}
	return task, err
}

// blockingRunner runs until released per item.
type blockingRunner struct {
	mu      sync.Mutex
	release map[string]chan error
	calls   atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(map[string]chan error)}
}

func (r *blockingRunner) ch(itemID string) chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.release[itemID]
	if !ok {
		c = make(chan error, 1)
		r.release[itemID] = c
	}
	return c
}

func (r *blockingRunner) Run(ctx context.Context, _ Control, item models.Item, _ func(float64)) (*models.BackupSummary, error) {
	r.calls.Add(1)
	select {
	case err := <-r.ch(item.ID):
		if err != nil {
			return nil, err
		}
		return &models.BackupSummary{FileCount: 1}, nil
	case <-ctx.Done():
		return nil, ErrCancelled
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 120 * time.Second},
		{10, 120 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt, 30*time.Second, 120*time.Second); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestEngine_ConcurrencyCap(t *testing.T) {
	runner := newBlockingRunner()
	e := newTestEngine(t, Config{MaxConcurrent: 3}, runner)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		task, err := e.Create(testItem(i))
		if err != nil {
			t.Fatalf("Create(%d) error: %v", i, err)
		}
		ids = append(ids, task.ID)
	}

	waitFor(t, "3 running", func() bool {
		running, queued := e.Counts()
		return running == 3 && queued == 2
	})
	for i, id := range ids {
		task, _ := e.Get(id)
		want := StatusRunning
		if i >= 3 {
			want = StatusPending
		}
		if task.Status != want {
			t.Errorf("task %d status = %s, want %s", i, task.Status, want)
		}
	}

	runner.ch("item-0") <- nil
	if task, err := waitTask(t, e, ids[0]); err != nil || task.Status != StatusCompleted {
		t.Fatalf("expected first task completed, got %s %v", task.Status, err)
	}

	waitFor(t, "queued task promoted", func() bool {
		task, _ := e.Get(ids[3])
		return task.Status == StatusRunning
	})
	running, queued := e.Counts()
	if running != 3 || queued != 1 {
		t.Errorf("expected 3 running and 1 queued, got %d and %d", running, queued)
	}
	if task, _ := e.Get(ids[4]); task.Status != StatusPending {
		t.Errorf("expected FIFO order to keep the last task pending, got %s", task.Status)
	}
}

func TestEngine_DuplicateSuppression(t *testing.T) {
	runner := newBlockingRunner()
	e := newTestEngine(t, Config{}, runner)
	item := testItem(1)

	first, err := e.Create(item)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	dup, err := e.Create(item)
	if !errors.Is(err, ErrDuplicateTask) || dup != nil {
		t.Fatalf("expected (nil, ErrDuplicateTask), got (%v, %v)", dup, err)
	}
	if active, ok := e.Active(item.ID); !ok || active.ID != first.ID {
		t.Errorf("expected active task %s, got %+v", first.ID, active)
	}

	runner.ch(item.ID) <- nil
	waitTask(t, e, first.ID)

	if _, err := e.Create(item); err != nil {
		t.Errorf("expected a new task after completion, got %v", err)
	}
}

func TestEngine_RetryBackoff(t *testing.T) {
	var calls atomic.Int32
	runner := RunnerFunc(func(context.Context, Control, models.Item, func(float64)) (*models.BackupSummary, error) {
		n := calls.Add(1)
		return nil, fmt.Errorf("attempt %d failed", n)
	})
	e := newTestEngine(t, Config{RetentionPeriod: time.Hour}, runner)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	e.afterFunc = func(d time.Duration, f func()) func() bool {
		if d == e.cfg.RetentionPeriod {
			return func() bool { return false }
		}
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		go f()
		return func() bool { return false }
	}

	events, unsubscribe := e.Subscribe()
	defer unsubscribe()

	task, err := e.Create(testItem(1))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	final, err := waitTask(t, e, task.ID)
	if err == nil || err.Error() != "attempt 4 failed" {
		t.Fatalf("expected last runner error, got %v", err)
	}
	if final.Status != StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", final.RetryCount)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("runner called %d times, want 4", n)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	var retries []int
	for ev := range drain(events) {
		if ev.Kind == EventRetry {
			retries = append(retries, ev.Attempt)
			if ev.Err == nil {
				t.Error("retry event must carry the error")
			}
		}
	}
	if len(retries) != 3 || retries[0] != 1 || retries[2] != 3 {
		t.Errorf("retry attempts = %v, want [1 2 3]", retries)
	}
}

func drain(ch <-chan Event) <-chan Event {
	out := make(chan Event, cap(ch))
	for {
		select {
		case ev := <-ch:
			out <- ev
		default:
			close(out)
			return out
		}
	}
}

func TestEngine_PauseBlocksCheckpoint(t *testing.T) {
	proceed := make(chan struct{})
	passed := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, ctl Control, _ models.Item, _ func(float64)) (*models.BackupSummary, error) {
		<-proceed
		if err := ctl.Checkpoint(ctx); err != nil {
			return nil, err
		}
		close(passed)
		return &models.BackupSummary{}, nil
	})
	e := newTestEngine(t, Config{}, runner)

	task, _ := e.Create(testItem(1))
	waitFor(t, "running", func() bool {
		got, _ := e.Get(task.ID)
		return got.Status == StatusRunning
	})

	if err := e.Pause(task.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	close(proceed)

	select {
	case <-passed:
		t.Fatal("checkpoint must block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	if err := e.Resume(task.ID); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	select {
	case <-passed:
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint did not release after resume")
	}
	if final, err := waitTask(t, e, task.ID); err != nil || final.Status != StatusCompleted {
		t.Errorf("expected completion, got %s %v", final.Status, err)
	}
}

func TestEngine_CancelPausedTaskNeverRetries(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, ctl Control, _ models.Item, _ func(float64)) (*models.BackupSummary, error) {
		calls.Add(1)
		close(started)
		for {
			if err := ctl.Checkpoint(ctx); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	})
	e := newTestEngine(t, Config{MaxRetries: 3}, runner)

	task, _ := e.Create(testItem(1))
	<-started
	if err := e.Pause(task.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if err := e.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	final, err := waitTask(t, e, task.ID)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if final.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("cancelled task was retried: %d runs", n)
	}
	if err := e.Cancel(task.ID); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("expected ErrTaskFinished cancelling twice, got %v", err)
	}
}

func TestEngine_CancelPendingTask(t *testing.T) {
	runner := newBlockingRunner()
	e := newTestEngine(t, Config{MaxConcurrent: 1}, runner)

	first, _ := e.Create(testItem(1))
	second, _ := e.Create(testItem(2))

	if err := e.Cancel(second.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if task, _ := e.Get(second.ID); task.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status)
	}
	if _, queued := e.Counts(); queued != 0 {
		t.Errorf("expected empty queue, got %d", queued)
	}

	runner.ch("item-1") <- nil
	waitTask(t, e, first.ID)
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("cancelled pending task ran: %d calls", n)
	}
}

func TestEngine_GlobalPauseHaltsAdmission(t *testing.T) {
	runner := newBlockingRunner()
	e := newTestEngine(t, Config{}, runner)

	e.PauseAll()
	if !e.Paused() {
		t.Fatal("expected engine paused")
	}
	task, _ := e.Create(testItem(1))

	time.Sleep(20 * time.Millisecond)
	if running, queued := e.Counts(); running != 0 || queued != 1 {
		t.Fatalf("expected admission halted, got %d running %d queued", running, queued)
	}

	e.ResumeAll()
	waitFor(t, "admitted", func() bool {
		got, _ := e.Get(task.ID)
		return got.Status == StatusRunning
	})
	runner.ch("item-1") <- nil
	waitTask(t, e, task.ID)
}

func TestEngine_GlobalPauseBlocksRunningTasks(t *testing.T) {
	proceed := make(chan struct{})
	passed := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, ctl Control, _ models.Item, _ func(float64)) (*models.BackupSummary, error) {
		<-proceed
		if err := ctl.Checkpoint(ctx); err != nil {
			return nil, err
		}
		close(passed)
		return &models.BackupSummary{}, nil
	})
	e := newTestEngine(t, Config{}, runner)

	task, _ := e.Create(testItem(1))
	waitFor(t, "running", func() bool {
		got, _ := e.Get(task.ID)
		return got.Status == StatusRunning
	})
	e.PauseAll()
	close(proceed)

	select {
	case <-passed:
		t.Fatal("global pause must block running tasks at their checkpoint")
	case <-time.After(50 * time.Millisecond):
	}

	e.ResumeAll()
	waitTask(t, e, task.ID)
}

func TestEngine_GlobalPauseMarksRunningTasks(t *testing.T) {
	runner := newBlockingRunner()
	e := newTestEngine(t, Config{MaxConcurrent: 2}, runner)

	first, _ := e.Create(testItem(1))
	second, _ := e.Create(testItem(2))
	waitFor(t, "both running", func() bool {
		running, _ := e.Counts()
		return running == 2
	})
	if err := e.Pause(second.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}

	e.PauseAll()
	for _, id := range []string{first.ID, second.ID} {
		if got, _ := e.Get(id); !got.Paused {
			t.Errorf("task %s not reported paused under a global pause", id)
		}
	}

	e.ResumeAll()
	if got, _ := e.Get(first.ID); got.Paused {
		t.Error("ResumeAll left the globally paused task paused")
	}
	if got, _ := e.Get(second.ID); !got.Paused {
		t.Error("ResumeAll released a task paused on its own")
	}

	if err := e.Resume(second.ID); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	runner.ch("item-1") <- nil
	runner.ch("item-2") <- nil
	waitTask(t, e, first.ID)
	waitTask(t, e, second.ID)
}

func TestEngine_RetentionAndCleanup(t *testing.T) {
	runner := RunnerFunc(func(context.Context, Control, models.Item, func(float64)) (*models.BackupSummary, error) {
		return &models.BackupSummary{}, nil
	})

	t.Run("purged after retention period", func(t *testing.T) {
		e := newTestEngine(t, Config{RetentionPeriod: 20 * time.Millisecond}, runner)
		task, _ := e.Create(testItem(1))
		waitTask(t, e, task.ID)

		waitFor(t, "purge", func() bool {
			_, ok := e.Get(task.ID)
			return !ok
		})
	})

	t.Run("cleanup purges immediately", func(t *testing.T) {
		e := newTestEngine(t, Config{RetentionPeriod: time.Hour}, runner)
		task, _ := e.Create(testItem(1))
		waitTask(t, e, task.ID)

		if _, ok := e.Get(task.ID); !ok {
			t.Fatal("terminal task should be retained")
		}
		if n := e.Cleanup(); n != 1 {
			t.Errorf("Cleanup() = %d, want 1", n)
		}
		if _, err := e.Wait(context.Background(), task.ID); !errors.Is(err, ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestEngine_EventSequence(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, _ Control, _ models.Item, progress func(float64)) (*models.BackupSummary, error) {
		progress(50)
		return &models.BackupSummary{FileCount: 2}, nil
	})
	e := newTestEngine(t, Config{}, runner)
	events, unsubscribe := e.Subscribe()
	defer unsubscribe()

	task, _ := e.Create(testItem(1))
	final, err := waitTask(t, e, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Progress != 100 || final.Summary == nil || final.Summary.FileCount != 2 {
		t.Errorf("unexpected final task %+v", final)
	}

	want := []EventKind{EventCreated, EventQueued, EventStatusChange, EventCompleted}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind {
				t.Errorf("event %d = %s, want %s", i, ev.Kind, kind)
			}
			if ev.Task.ID != task.ID {
				t.Errorf("event %d for task %s, want %s", i, ev.Task.ID, task.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%s)", i, kind)
		}
	}
}

func TestEngine_ShutdownCancelsRunning(t *testing.T) {
	runner := newBlockingRunner()
	e := NewEngine(Config{}, runner, zerolog.Nop())

	task, _ := e.Create(testItem(1))
	waitFor(t, "running", func() bool {
		got, _ := e.Get(task.ID)
		return got.Status == StatusRunning
	})
	events, _ := e.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	if _, err := e.Create(testItem(2)); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
	if len(e.List()) != 0 {
		t.Error("expected all tasks purged")
	}
	for range events {
	}
}

func TestEngine_FollowKeepsEveryEvent(t *testing.T) {
	runner := RunnerFunc(func(context.Context, Control, models.Item, func(float64)) (*models.BackupSummary, error) {
		return &models.BackupSummary{}, nil
	})
	e := NewEngine(Config{EventBuffer: 1}, runner, zerolog.Nop())
	events, _ := e.Follow()

	const n = 5
	for i := 0; i < n; i++ {
		task, err := e.Create(testItem(i))
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		waitTask(t, e, task.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	completed := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if completed != n {
					t.Errorf("completed events = %d, want %d", completed, n)
				}
				return
			}
			if ev.Kind == EventCompleted {
				completed++
			}
		case <-timeout:
			t.Fatalf("stream not closed after shutdown, %d completed events seen", completed)
		}
	}
}

func TestEngine_FollowUnsubscribeClosesStream(t *testing.T) {
	e := newTestEngine(t, Config{}, newBlockingRunner())
	events, unsubscribe := e.Follow()
	if _, err := e.Create(testItem(1)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	unsubscribe()
	unsubscribe()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream not closed after unsubscribe")
		}
	}
}
