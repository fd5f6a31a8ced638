package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds engine tunables.
type Config struct {
	MaxConcurrent   int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RetentionPeriod time.Duration
	EventBuffer     int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   3,
		MaxRetries:      3,
		RetryBaseDelay:  30 * time.Second,
		RetryMaxDelay:   120 * time.Second,
		RetentionPeriod: 60 * time.Second,
		EventBuffer:     256,
	}
}

// RetryDelay returns the wait before retry number attempt (1-based):
// base doubled per attempt, capped at ceiling.
func RetryDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

type timerFunc func(d time.Duration, f func()) func() bool

func defaultAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// entry is the engine's mutable record behind a Task snapshot.
type entry struct {
	Task
	item      models.Item
	lastErr   error
	cancelled bool
	// heldByAll marks a pause set by PauseAll, which ResumeAll lifts.
	heldByAll bool
	cancel    context.CancelFunc
	done      chan struct{}
	stopRetry func() bool
	stopGC    func() bool
}

// Engine is a bounded-concurrency FIFO queue of backup tasks.
type Engine struct {
	cfg    Config
	runner Runner
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*entry
	queue   []*entry
	running int
	paused  bool
	closed  bool
	wake    chan struct{}
	subs    map[int]*subscriber
	nextSub int

	wg        sync.WaitGroup
	baseCtx   context.Context
	stopAll   context.CancelFunc
	now       func() time.Time
	afterFunc timerFunc
}

// NewEngine creates an Engine. Zero config fields fall back to DefaultConfig.
func NewEngine(cfg Config, runner Runner, logger zerolog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = defaults.RetentionPeriod
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		runner:    runner,
		logger:    logger.With().Str("component", "task_engine").Logger(),
		tasks:     make(map[string]*entry),
		wake:      make(chan struct{}),
		subs:      make(map[int]*subscriber),
		baseCtx:   ctx,
		stopAll:   cancel,
		now:       time.Now,
		afterFunc: defaultAfterFunc,
	}
}

// subscriber is one event stream. Lossless subscribers queue events in
// backlog and a pump goroutine feeds ch; the backlog is guarded by Engine.mu.
type subscriber struct {
	ch       chan Event
	lossless bool
	backlog  []Event
	draining bool
	signal   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Subscribe returns a channel of engine events and a function that ends the subscription.
// Events are dropped for subscribers that fall behind.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.subscribe(false)
}

// Follow is Subscribe without drops: events wait in an unbounded backlog
// until read. After Shutdown the backlog is delivered before the channel closes.
func (e *Engine) Follow() (<-chan Event, func()) {
	return e.subscribe(true)
}

func (e *Engine) subscribe(lossless bool) (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &subscriber{lossless: lossless}
	if lossless {
		s.ch = make(chan Event)
		s.signal = make(chan struct{}, 1)
		s.stop = make(chan struct{})
	} else {
		s.ch = make(chan Event, e.cfg.EventBuffer)
	}
	if e.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = s
	if lossless {
		go e.pump(s)
	}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			e.mu.Lock()
			_, ok := e.subs[id]
			delete(e.subs, id)
			e.mu.Unlock()
			if lossless {
				s.halt()
			} else if ok {
				close(s.ch)
			}
		})
	}
}

// pump delivers a lossless subscriber's backlog in order.
func (e *Engine) pump(s *subscriber) {
	defer close(s.ch)
	for {
		e.mu.Lock()
		batch := s.backlog
		s.backlog = nil
		draining := s.draining
		e.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
			case <-s.stop:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if draining {
			return
		}
		select {
		case <-s.signal:
		case <-s.stop:
			return
		}
	}
}

// emit must be called with e.mu held.
func (e *Engine) emit(kind EventKind, t *entry, attempt int, delay time.Duration, err error) {
	ev := Event{Kind: kind, Attempt: attempt, Delay: delay, Err: err}
	if t != nil {
		ev.Task = t.snapshot()
	}
	for _, s := range e.subs {
		if s.lossless {
			s.backlog = append(s.backlog, ev)
			s.notify()
			continue
		}
		select {
		case s.ch <- ev:
		default:
			e.logger.Warn().Str("event", string(kind)).Msg("event subscriber is full, dropping event")
		}
	}
}

func (t *entry) snapshot() Task {
	s := t.Task
	if t.StartedAt != nil {
		v := *t.StartedAt
		s.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		s.CompletedAt = &v
	}
	return s
}

// broadcast wakes every runner blocked in Checkpoint. Must be called with e.mu held.
func (e *Engine) broadcast() {
	close(e.wake)
	e.wake = make(chan struct{})
}

// Create queues a new task for item. It returns ErrDuplicateTask when the item
// already has a pending or running task.
func (e *Engine) Create(item models.Item) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.activeFor(item.ID) != nil {
		return nil, ErrDuplicateTask
	}

	t := &entry{
		Task: Task{
			ID:        uuid.New().String(),
			ItemID:    item.ID,
			ItemName:  item.Name,
			Status:    StatusPending,
			CreatedAt: e.now(),
		},
		item: item,
		done: make(chan struct{}),
	}
	e.tasks[t.ID] = t
	e.emit(EventCreated, t, 0, 0, nil)

	e.queue = append(e.queue, t)
	e.emit(EventQueued, t, 0, 0, nil)

	e.logger.Info().
		Str("task_id", t.ID).
		Str("item_id", item.ID).
		Str("backup_name", item.Name).
		Msg("task created")

	e.dispatch()
	snap := t.snapshot()
	return &snap, nil
}

// activeFor must be called with e.mu held.
func (e *Engine) activeFor(itemID string) *entry {
	for _, t := range e.tasks {
		if t.ItemID == itemID && !t.Status.Terminal() {
			return t
		}
	}
	return nil
}

// Active returns the pending or running task for itemID.
func (e *Engine) Active(itemID string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.activeFor(itemID); t != nil {
		return t.snapshot(), true
	}
	return Task{}, false
}

// dispatch starts queued tasks while capacity allows. Must be called with e.mu held.
func (e *Engine) dispatch() {
	for !e.paused && !e.closed && e.running < e.cfg.MaxConcurrent && len(e.queue) > 0 {
		t := e.queue[0]
		e.queue = e.queue[1:]
		e.start(t)
	}
}

// start must be called with e.mu held.
func (e *Engine) start(t *entry) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	now := e.now()
	t.cancel = cancel
	t.Status = StatusRunning
	t.StartedAt = &now
	t.Progress = 0
	e.running++
	e.emit(EventStatusChange, t, t.RetryCount, 0, nil)

	item := t.item
	ctl := &control{engine: e, task: t}
	progress := func(p float64) {
		e.mu.Lock()
		if p > t.Progress && p <= 100 {
			t.Progress = p
		}
		e.mu.Unlock()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		summary, err := e.runner.Run(ctx, ctl, item, progress)
		cancel()
		e.finish(t, summary, err)
	}()
}

func (e *Engine) finish(t *entry, summary *models.BackupSummary, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running--
	now := e.now()
	log := e.logger.With().Str("task_id", t.ID).Str("backup_name", t.ItemName).Logger()

	switch {
	case t.cancelled || errors.Is(err, ErrCancelled):
		t.cancelled = true
		t.lastErr = ErrCancelled
		t.LastError = ErrCancelled.Error()
		e.terminate(t, StatusCancelled, now)
		e.emit(EventCancelled, t, t.RetryCount, 0, nil)
		log.Info().Msg("task cancelled")

	case err == nil:
		t.Summary = summary
		t.Progress = 100
		t.lastErr = nil
		t.LastError = ""
		e.terminate(t, StatusCompleted, now)
		e.emit(EventCompleted, t, t.RetryCount, 0, nil)
		log.Info().Msg("task completed")

	case t.RetryCount < e.cfg.MaxRetries && !e.closed:
		t.RetryCount++
		t.lastErr = err
		t.LastError = err.Error()
		t.Status = StatusPending
		delay := RetryDelay(t.RetryCount, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)
		e.emit(EventRetry, t, t.RetryCount, delay, err)
		log.Warn().Err(err).Int("attempt", t.RetryCount).Dur("delay", delay).Msg("task failed, retrying")
		t.stopRetry = e.afterFunc(delay, func() { e.requeue(t) })

	default:
		t.lastErr = err
		t.LastError = err.Error()
		e.terminate(t, StatusFailed, now)
		e.emit(EventFailed, t, t.RetryCount, 0, err)
		log.Error().Err(err).Int("retries", t.RetryCount).Msg("task failed")
	}

	e.dispatch()
}

func (e *Engine) requeue(t *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t.stopRetry = nil
	if t.Status != StatusPending || t.cancelled || e.closed {
		return
	}
	e.queue = append(e.queue, t)
	e.emit(EventQueued, t, t.RetryCount, 0, nil)
	e.dispatch()
}

// terminate must be called with e.mu held.
func (e *Engine) terminate(t *entry, status Status, now time.Time) {
	t.Status = status
	t.CompletedAt = &now
	t.Paused = false
	t.heldByAll = false
	close(t.done)
	t.stopGC = e.afterFunc(e.cfg.RetentionPeriod, func() { e.purge(t.ID) })
}

func (e *Engine) purge(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[taskID]; ok && t.Status.Terminal() {
		delete(e.tasks, taskID)
	}
}

// Get returns a snapshot of the task.
func (e *Engine) Get(taskID string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// List returns snapshots of every retained task, oldest first.
func (e *Engine) List() []Task {
	e.mu.Lock()
	out := make([]Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.snapshot())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait blocks until the task reaches a terminal state and returns its final
// snapshot with the error it ended on (nil when completed).
func (e *Engine) Wait(ctx context.Context, taskID string) (Task, error) {
	e.mu.Lock()
	t, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return Task{}, ErrTaskNotFound
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return t.snapshot(), t.lastErr
}

// Cancel stops a task. Pending tasks end immediately; running tasks end at
// their runner's next checkpoint.
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskFinished
	}
	if t.cancelled {
		return nil
	}
	t.cancelled = true

	if t.Status == StatusPending {
		if t.stopRetry != nil {
			t.stopRetry()
			t.stopRetry = nil
		}
		e.removeQueued(t)
		t.lastErr = ErrCancelled
		t.LastError = ErrCancelled.Error()
		e.terminate(t, StatusCancelled, e.now())
		e.emit(EventCancelled, t, t.RetryCount, 0, nil)
		return nil
	}

	t.cancel()
	e.broadcast()
	return nil
}

// removeQueued must be called with e.mu held.
func (e *Engine) removeQueued(t *entry) {
	for i, q := range e.queue {
		if q == t {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// Pause asks the task's runner to block at its next checkpoint.
func (e *Engine) Pause(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskFinished
	}
	if t.Paused {
		t.heldByAll = false
		return nil
	}
	t.Paused = true
	e.emit(EventPaused, t, t.RetryCount, 0, nil)
	return nil
}

// Resume releases a paused task.
func (e *Engine) Resume(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskFinished
	}
	if !t.Paused {
		return nil
	}
	t.Paused = false
	t.heldByAll = false
	e.broadcast()
	e.emit(EventResumed, t, t.RetryCount, 0, nil)
	return nil
}

// PauseAll pauses every running task and halts admission from the queue.
// Running tasks report Paused until ResumeAll or their own Resume.
func (e *Engine) PauseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	for _, t := range e.tasks {
		if t.Status != StatusRunning || t.Paused {
			continue
		}
		t.Paused = true
		t.heldByAll = true
		e.emit(EventPaused, t, t.RetryCount, 0, nil)
	}
	e.emit(EventPaused, nil, 0, 0, nil)
	e.logger.Info().Msg("engine paused")
}

// ResumeAll lifts a global pause and resumes admission. Tasks paused on
// their own stay paused.
func (e *Engine) ResumeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	for _, t := range e.tasks {
		if !t.heldByAll {
			continue
		}
		t.Paused = false
		t.heldByAll = false
		e.emit(EventResumed, t, t.RetryCount, 0, nil)
	}
	e.broadcast()
	e.emit(EventResumed, nil, 0, 0, nil)
	e.logger.Info().Msg("engine resumed")
	e.dispatch()
}

// Paused reports whether the engine is globally paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Counts returns the number of running and queued tasks.
func (e *Engine) Counts() (running, queued int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, len(e.queue)
}

// Cleanup purges every terminal task now.
func (e *Engine) Cleanup() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, t := range e.tasks {
		if !t.Status.Terminal() {
			continue
		}
		if t.stopGC != nil {
			t.stopGC()
		}
		delete(e.tasks, id)
		n++
	}
	return n
}

// Shutdown cancels every task, waits for running runners to return or ctx to
// end, then purges all tasks and closes event subscriptions.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ids := make([]string, 0, len(e.tasks))
	for id, t := range e.tasks {
		if !t.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Cancel(id)
	}
	e.stopAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.Cleanup()

	e.mu.Lock()
	for id, s := range e.subs {
		delete(e.subs, id)
		if s.lossless {
			s.draining = true
			s.notify()
		} else {
			close(s.ch)
		}
	}
	e.mu.Unlock()

	e.logger.Info().Msg("task engine stopped")
	return err
}

// control is the Control handed to a runner for one task.
type control struct {
	engine *Engine
	task   *entry
}

func (c *control) Checkpoint(ctx context.Context) error {
	e := c.engine
	for {
		e.mu.Lock()
		if c.task.cancelled {
			e.mu.Unlock()
			return ErrCancelled
		}
		if !c.task.Paused && !e.paused {
			e.mu.Unlock()
			return nil
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			e.mu.Lock()
			cancelled := c.task.cancelled
			e.mu.Unlock()
			if cancelled {
				return ErrCancelled
			}
			return ctx.Err()
		}
	}
}
