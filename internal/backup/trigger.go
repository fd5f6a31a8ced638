package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/tasks"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
)

// ItemFinder resolves items by their backup name.
type ItemFinder interface {
	FindItemByName(ctx context.Context, name string) (*models.Item, error)
}

// TaskRunner is the part of the execution engine used by on-demand triggers.
type TaskRunner interface {
	Create(item models.Item) (*tasks.Task, error)
	Active(itemID string) (tasks.Task, bool)
	Wait(ctx context.Context, taskID string) (tasks.Task, error)
}

// TriggerService runs server-requested backups through the execution engine.
// It implements agent.TriggerHandler.
type TriggerService struct {
	items  ItemFinder
	engine TaskRunner
	logger zerolog.Logger
}

var _ agent.TriggerHandler = (*TriggerService)(nil)

// NewTriggerService creates a TriggerService.
func NewTriggerService(items ItemFinder, engine TaskRunner, logger zerolog.Logger) *TriggerService {
	return &TriggerService{
		items:  items,
		engine: engine,
		logger: logger.With().Str("component", "trigger_service").Logger(),
	}
}

// HandleTrigger runs the named backup, or joins the item's active task, and
// returns its final error.
func (s *TriggerService) HandleTrigger(ctx context.Context, backupName string) error {
	item, err := s.items.FindItemByName(ctx, backupName)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			return fmt.Errorf("backup not found: %s", backupName)
		}
		return fmt.Errorf("find backup: %w", err)
	}

	taskID, err := s.taskFor(*item)
	if err != nil {
		return err
	}

	log := s.logger.With().Str("backup_name", item.Name).Str("task_id", taskID).Logger()
	log.Info().Msg("on-demand backup started")

	task, err := s.engine.Wait(ctx, taskID)
	if err != nil {
		log.Warn().Err(err).Str("status", string(task.Status)).Msg("on-demand backup did not complete")
		return err
	}
	log.Info().Msg("on-demand backup completed")
	return nil
}

// taskFor creates a task for item or returns the one already active.
func (s *TriggerService) taskFor(item models.Item) (string, error) {
	// The active task can finish between Create and Active; retry a few times.
	for range 3 {
		task, err := s.engine.Create(item)
		if err == nil {
			return task.ID, nil
		}
		if !errors.Is(err, tasks.ErrDuplicateTask) {
			return "", fmt.Errorf("start backup: %w", err)
		}
		if active, ok := s.engine.Active(item.ID); ok {
			s.logger.Debug().Str("backup_name", item.Name).Str("task_id", active.ID).Msg("joining active backup")
			return active.ID, nil
		}
	}
	return "", fmt.Errorf("start backup: %w", tasks.ErrDuplicateTask)
}
