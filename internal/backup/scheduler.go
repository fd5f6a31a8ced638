package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/schedule"
	"github.com/MacJediWizard/strongbox/internal/tasks"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
)

const (
	// MaxTimerDelay is the longest single timer the scheduler arms. Items due
	// later get a recheck timer that only re-arms.
	MaxTimerDelay = 20 * 24 * time.Hour
	// immediateThreshold is how close (or overdue) a run must be to start at once.
	immediateThreshold = time.Minute
)

// ItemStore persists items for the scheduler.
type ItemStore interface {
	ListItems(ctx context.Context) ([]*models.Item, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error
}

// TaskCreator is the part of the execution engine the scheduler drives.
type TaskCreator interface {
	Create(item models.Item) (*tasks.Task, error)
	// Follow must deliver every event; a lost terminal event would leave
	// the item without a timer.
	Follow() (<-chan tasks.Event, func())
}

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// Clock supplies time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// armed is one scheduled timer; callbacks compare identity to ignore stale fires.
type armed struct {
	timer   Timer
	recheck bool
}

// Scheduler keeps one timer per enabled scheduled item and hands due items
// to the execution engine.
type Scheduler struct {
	store  ItemStore
	engine TaskCreator
	clock  Clock
	logger zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*armed
	ctx     context.Context
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a Scheduler. A nil clock uses wall time.
func NewScheduler(store ItemStore, engine TaskCreator, clock Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		store:  store,
		engine: engine,
		clock:  clock,
		logger: logger.With().Str("component", "scheduler").Logger(),
		timers: make(map[string]*armed),
	}
}

// Start loads every item, runs those more than a minute overdue, and arms
// timers for all enabled scheduled items.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	events, unsub := s.engine.Follow()
	s.unsub = unsub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watch(events)

	items, err := s.store.ListItems(s.ctx)
	if err != nil {
		return err
	}

	scheduled := 0
	for _, item := range items {
		if !item.Scheduled() {
			continue
		}
		now := s.clock.Now()

		if item.NextRun == nil {
			base := now
			if item.LastRun != nil {
				base = *item.LastRun
			}
			if !s.setNext(item, base) {
				continue
			}
			s.save(item)
		}

		if now.Sub(*item.NextRun) > immediateThreshold {
			s.logger.Info().
				Str("backup_name", item.Name).
				Time("next_run", *item.NextRun).
				Msg("missed scheduled run, running now")
			s.execute(*item)
			if !s.setNext(item, now) {
				continue
			}
			s.save(item)
		}

		s.arm(item)
		scheduled++
	}

	s.logger.Info().Int("items", scheduled).Msg("scheduler started")
	return nil
}

// Stop cancels every timer and stops observing the engine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
	unsub := s.unsub
	s.unsub = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// Upsert persists an edited item and re-arms only its timer.
func (s *Scheduler) Upsert(ctx context.Context, item *models.Item) error {
	if !item.Scheduled() {
		s.cancelTimer(item.ID)
		item.NextRun = nil
		return s.store.SaveItem(ctx, item)
	}

	now := s.clock.Now()
	base := now
	if item.LastRun != nil {
		base = *item.LastRun
	}
	if !s.setNext(item, base) {
		if err := schedule.Validate(item.Schedule); err != nil {
			return err
		}
		return fmt.Errorf("no next run for interval %q", item.Schedule.Interval)
	}
	if item.NextRun.Before(now) {
		s.setNext(item, now)
	}
	if err := s.store.SaveItem(ctx, item); err != nil {
		return err
	}
	s.arm(item)
	return nil
}

// Enable turns scheduling on for an item.
func (s *Scheduler) Enable(ctx context.Context, itemID string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	item.Enabled = true
	return s.Upsert(ctx, item)
}

// Disable cancels the item's timer and clears its next run.
func (s *Scheduler) Disable(ctx context.Context, itemID string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	item.Enabled = false
	return s.Upsert(ctx, item)
}

// Remove cancels the item's timer. Deleting the item is up to the caller.
func (s *Scheduler) Remove(itemID string) {
	s.cancelTimer(itemID)
}

// Timers returns the number of armed timers.
func (s *Scheduler) Timers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// HasTimer reports whether the item has an armed timer.
func (s *Scheduler) HasTimer(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[itemID]
	return ok
}

func (s *Scheduler) setNext(item *models.Item, base time.Time) bool {
	next, ok := schedule.NextRun(item.Schedule, base)
	if !ok {
		item.NextRun = nil
		return false
	}
	item.NextRun = &next
	return true
}

func (s *Scheduler) save(item *models.Item) {
	if err := s.store.SaveItem(s.context(), item); err != nil {
		s.logger.Error().Err(err).Str("backup_name", item.Name).Msg("failed to save item schedule")
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) cancelTimer(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[itemID]; ok {
		a.timer.Stop()
		delete(s.timers, itemID)
	}
}

// arm replaces the item's timer according to its NextRun.
func (s *Scheduler) arm(item *models.Item) {
	s.cancelTimer(item.ID)
	if !item.Scheduled() || item.NextRun == nil {
		return
	}

	delay := item.NextRun.Sub(s.clock.Now())
	if delay < immediateThreshold {
		if !s.execute(*item) {
			s.rearmAfterFailure(item)
		}
		return
	}
	s.armTimer(item, delay)
}

func (s *Scheduler) armTimer(item *models.Item, delay time.Duration) {
	id := item.ID
	a := &armed{recheck: delay > MaxTimerDelay}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}
	if a.recheck {
		a.timer = s.clock.AfterFunc(MaxTimerDelay, func() { s.fire(id, a) })
	} else {
		a.timer = s.clock.AfterFunc(delay, func() { s.fire(id, a) })
	}
	s.timers[id] = a

	s.logger.Debug().
		Str("backup_name", item.Name).
		Time("next_run", *item.NextRun).
		Bool("recheck", a.recheck).
		Msg("timer armed")
}

func (s *Scheduler) fire(itemID string, a *armed) {
	s.mu.Lock()
	if s.timers[itemID] != a {
		s.mu.Unlock()
		return
	}
	delete(s.timers, itemID)
	s.mu.Unlock()

	item, err := s.store.GetItem(s.context(), itemID)
	if err != nil {
		if !errors.Is(err, agent.ErrNotFound) {
			s.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to load scheduled item")
		}
		return
	}
	if a.recheck {
		s.arm(item)
		return
	}
	if item.Scheduled() && !s.execute(*item) {
		s.rearmAfterFailure(item)
	}
}

// execute hands item to the engine. It reports whether a task for the item
// is now active, whose terminal event will re-arm the item.
func (s *Scheduler) execute(item models.Item) bool {
	task, err := s.engine.Create(item)
	switch {
	case errors.Is(err, tasks.ErrDuplicateTask):
		s.logger.Debug().Str("backup_name", item.Name).Msg("backup already active, skipping scheduled run")
		return true
	case err != nil:
		s.logger.Error().Err(err).Str("backup_name", item.Name).Msg("failed to start scheduled backup")
		return false
	default:
		s.logger.Info().Str("backup_name", item.Name).Str("task_id", task.ID).Msg("scheduled backup started")
		return true
	}
}

// rearmAfterFailure schedules the next run from now when a run could not be
// started, never sooner than immediateThreshold so a failing engine is not
// retried in a loop.
func (s *Scheduler) rearmAfterFailure(item *models.Item) {
	if s.context().Err() != nil {
		return
	}
	now := s.clock.Now()
	if !s.setNext(item, now) {
		s.save(item)
		return
	}
	if earliest := now.Add(immediateThreshold); item.NextRun.Before(earliest) {
		item.NextRun = &earliest
	}
	s.save(item)
	s.cancelTimer(item.ID)
	s.armTimer(item, item.NextRun.Sub(now))
}

func (s *Scheduler) watch(events <-chan tasks.Event) {
	defer s.wg.Done()
	for ev := range events {
		switch ev.Kind {
		case tasks.EventCompleted, tasks.EventFailed, tasks.EventCancelled:
			s.finished(ev)
		}
	}
}

// finished records a terminal run and schedules the item's next one from the
// completion time.
func (s *Scheduler) finished(ev tasks.Event) {
	ctx := s.context()
	if ctx.Err() != nil {
		return
	}
	item, err := s.store.GetItem(ctx, ev.Task.ItemID)
	if err != nil {
		if !errors.Is(err, agent.ErrNotFound) {
			s.logger.Error().Err(err).Str("item_id", ev.Task.ItemID).Msg("failed to load finished item")
		}
		return
	}

	completed := s.clock.Now()
	if ev.Task.CompletedAt != nil {
		completed = *ev.Task.CompletedAt
	}
	if ev.Kind == tasks.EventCompleted {
		item.LastRun = &completed
	}
	if item.Scheduled() {
		s.setNext(item, completed)
	} else {
		item.NextRun = nil
	}
	s.save(item)
	s.arm(item)
}
