package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentclient "github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/backup"
	"github.com/MacJediWizard/strongbox/internal/config"
	"github.com/MacJediWizard/strongbox/internal/tasks"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// runtimeParts is the backup machinery shared by 'backup --now' and 'start'.
type runtimeParts struct {
	cfg    *config.AgentConfig
	store  *agentclient.SQLiteStore
	client *agentclient.Client
	engine *tasks.Engine
	logger zerolog.Logger

	summariesDone chan struct{}
}

func engineConfig(s config.EngineSettings) tasks.Config {
	cfg := tasks.DefaultConfig()
	if s.MaxConcurrent > 0 {
		cfg.MaxConcurrent = s.MaxConcurrent
	}
	if s.MaxRetries != nil {
		cfg.MaxRetries = *s.MaxRetries
	}
	if s.RetryBaseDelay > 0 {
		cfg.RetryBaseDelay = s.RetryBaseDelay
	}
	if s.RetryMaxDelay > 0 {
		cfg.RetryMaxDelay = s.RetryMaxDelay
	}
	if s.RetentionPeriod > 0 {
		cfg.RetentionPeriod = s.RetentionPeriod
	}
	return cfg
}

func buildRuntime(paths *agentPaths) (*runtimeParts, error) {
	cfg, err := paths.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent not configured: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	store, err := openStore(paths, logger)
	if err != nil {
		return nil, err
	}

	client := agentclient.NewClient(cfg.ServerURL, cfg.APIKey)
	runner := backup.NewRunner(backup.RunnerConfig{
		TempDir:        cfg.Backup.TempDir,
		ChunkThreshold: cfg.Backup.ChunkThreshold,
	}, client, logger)

	return &runtimeParts{
		cfg:    cfg,
		store:  store,
		client: client,
		engine: tasks.NewEngine(engineConfig(cfg.Engine), runner, logger),
		logger: logger,
	}, nil
}

// recordSummaries stores the summary of every completed task until the
// engine closes its event stream.
func (p *runtimeParts) recordSummaries() {
	events, _ := p.engine.Follow()
	p.summariesDone = make(chan struct{})
	go func() {
		defer close(p.summariesDone)
		for ev := range events {
			if ev.Kind != tasks.EventCompleted || ev.Task.Summary == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.store.SaveSummary(ctx, ev.Task.ItemID, ev.Task.Summary); err != nil {
				p.logger.Warn().Err(err).Str("backup_name", ev.Task.ItemName).Msg("failed to record backup summary")
			}
			cancel()
		}
	}()
}

func (p *runtimeParts) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.engine.Shutdown(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("backups still running at shutdown")
	}
	// Shutdown closed the event stream; let pending summaries land first.
	if p.summariesDone != nil {
		<-p.summariesDone
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to close item store")
	}
}

func newBackupCmd(paths *agentPaths) *cobra.Command {
	var now bool
	var itemName string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !now {
				return cmd.Help()
			}
			return runBackupNow(cmd.Context(), paths, itemName)
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "Run backup immediately")
	cmd.Flags().StringVar(&itemName, "item", "", "Backup item to run (required when more than one exists)")

	return cmd
}

func pickItem(ctx context.Context, store *agentclient.SQLiteStore, name string) (*models.Item, error) {
	if name != "" {
		return lookupItem(ctx, store, name)
	}
	items, err := store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, errors.New("no backup items configured")
	case 1:
		return items[0], nil
	default:
		return nil, errors.New("more than one backup item exists; choose one with --item")
	}
}

func runBackupNow(ctx context.Context, paths *agentPaths, itemName string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := buildRuntime(paths)
	if err != nil {
		return err
	}
	defer parts.shutdown()

	item, err := pickItem(ctx, parts.store, itemName)
	if err != nil {
		return err
	}

	events, unsubscribe := parts.engine.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Kind == tasks.EventRetry {
				fmt.Printf("%s attempt %d failed (%v), retrying in %s\n", warnColor.Sprint("!"), ev.Attempt, ev.Err, ev.Delay)
			}
		}
	}()

	fmt.Printf("Backing up %s...\n", item.Name)
	task, err := parts.engine.Create(*item)
	if err != nil {
		return err
	}
	result, err := parts.engine.Wait(ctx, task.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = parts.engine.Cancel(task.ID)
		}
		fmt.Printf("%s %s\n", failColor.Sprint("Backup failed:"), err)
		return err
	}

	if s := result.Summary; s != nil {
		if err := parts.store.SaveSummary(ctx, item.ID, s); err != nil {
			parts.logger.Warn().Err(err).Msg("failed to record backup summary")
		}
		fmt.Printf("%s version %d, %d files, %d bytes in %s\n",
			okColor.Sprint("Backup complete:"), s.Version, s.FileCount, s.TotalBytes, s.Duration.Round(time.Second))
	} else {
		fmt.Println(okColor.Sprint("Backup complete"))
	}
	return nil
}

func newStartCmd(paths *agentPaths) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the agent: scheduled backups and on-demand triggers from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), paths)
		},
	}
}

func runDaemon(ctx context.Context, paths *agentPaths) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := buildRuntime(paths)
	if err != nil {
		return err
	}
	logger := parts.logger

	parts.recordSummaries()

	scheduler := backup.NewScheduler(parts.store, parts.engine, nil, logger)
	if err := scheduler.Start(ctx); err != nil {
		parts.shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}

	triggers := backup.NewTriggerService(parts.store, parts.engine, logger)
	link := agentclient.NewLink(parts.cfg.ServerURL, parts.cfg.APIKey, triggers, agentclient.LinkConfig{
		PingInterval: parts.cfg.Link.PingInterval,
		PongTimeout:  parts.cfg.Link.PongTimeout,
		MaxBackoff:   parts.cfg.Link.MaxBackoff,
	}, logger)

	linkDone := make(chan error, 1)
	go func() { linkDone <- link.Run(ctx) }()

	logger.Info().Str("server", parts.cfg.ServerURL).Msg("agent started")

	var runErr error
	select {
	case <-ctx.Done():
		<-linkDone
	case err := <-linkDone:
		if !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	logger.Info().Msg("shutting down agent")
	scheduler.Stop()
	parts.shutdown()
	return runErr
}
