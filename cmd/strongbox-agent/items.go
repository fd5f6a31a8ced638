package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	agentclient "github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/schedule"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func openStore(paths *agentPaths, logger zerolog.Logger) (*agentclient.SQLiteStore, error) {
	dir, err := paths.dataDir()
	if err != nil {
		return nil, err
	}
	return agentclient.NewSQLiteStore(dir, logger)
}

// withStore opens the item store for the duration of fn.
func withStore(paths *agentPaths, fn func(store *agentclient.SQLiteStore) error) error {
	store, err := openStore(paths, zerolog.Nop())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// lookupItem accepts an item name or ID.
func lookupItem(ctx context.Context, store *agentclient.SQLiteStore, ref string) (*models.Item, error) {
	item, err := store.FindItemByName(ctx, ref)
	if errors.Is(err, agentclient.ErrNotFound) {
		item, err = store.GetItem(ctx, ref)
	}
	if errors.Is(err, agentclient.ErrNotFound) {
		return nil, fmt.Errorf("no backup item named %q", ref)
	}
	return item, err
}

// refreshNextRun recomputes NextRun the way the scheduler does on an edit.
func refreshNextRun(item *models.Item, now time.Time) {
	item.NextRun = nil
	if !item.Scheduled() {
		return
	}
	base := now
	if item.LastRun != nil {
		base = *item.LastRun
	}
	next, ok := schedule.NextRun(item.Schedule, base)
	if ok && next.Before(now) {
		next, ok = schedule.NextRun(item.Schedule, now)
	}
	if ok {
		item.NextRun = &next
	}
}

func describeSchedule(s models.ScheduleSpec) string {
	switch s.Interval {
	case models.IntervalHourly:
		return "hourly"
	case models.IntervalDaily:
		return "daily at " + orMidnight(s.DailyTime)
	case models.IntervalWeekly:
		return fmt.Sprintf("weekly on %s at %s", s.WeeklyDay, orMidnight(s.WeeklyTime))
	case models.IntervalCustom:
		return fmt.Sprintf("every %dh", schedule.CustomHours(s.CustomHours))
	case models.IntervalCron:
		return "cron " + s.CronExpression
	default:
		return "manual"
	}
}

func orMidnight(clock string) string {
	if clock == "" {
		return "00:00"
	}
	return clock
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func newItemsCmd(paths *agentPaths) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage backup items",
		Long: `Manage the backups this agent runs.

A running 'strongbox-agent start' picks up changes on its next restart.`,
	}

	cmd.AddCommand(
		newItemsListCmd(paths),
		newItemsAddCmd(paths),
		newItemsRemoveCmd(paths),
		newItemsToggleCmd(paths, "enable", true),
		newItemsToggleCmd(paths, "disable", false),
	)
	return cmd
}

func newItemsListCmd(paths *agentPaths) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(paths, func(store *agentclient.SQLiteStore) error {
				items, err := store.ListItems(cmd.Context())
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Println("No backup items. Add one with 'strongbox-agent items add'.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tKIND\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN")
				for _, item := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
						item.Name, item.Kind, describeSchedule(item.Schedule), item.Enabled,
						formatTime(item.LastRun), formatTime(item.NextRun))
				}
				return w.Flush()
			})
		},
	}
}

type itemFlags struct {
	kind        string
	paths       []string
	excludes    []string
	interval    string
	dailyTime   string
	weeklyDay   string
	weeklyTime  string
	customHours string
	cron        string
	dbEngine    string
	dbPath      string
	dbTool      string
	dbArgs      []string
	disabled    bool
}

func (f *itemFlags) item(name string, now time.Time) (*models.Item, error) {
	item := &models.Item{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Kind:     models.ItemKind(f.kind),
		Paths:    f.paths,
		Excludes: f.excludes,
		Schedule: models.ScheduleSpec{
			Interval:       models.IntervalKind(f.interval),
			DailyTime:      f.dailyTime,
			WeeklyDay:      f.weeklyDay,
			WeeklyTime:     f.weeklyTime,
			CustomHours:    f.customHours,
			CronExpression: f.cron,
		},
		Enabled:   !f.disabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if item.Kind == models.ItemKindDatabase {
		item.Database = &models.DatabaseTarget{Engine: f.dbEngine, Path: f.dbPath, ToolPath: f.dbTool, Args: f.dbArgs}
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if !item.Schedule.IsManual() {
		if err := schedule.Validate(item.Schedule); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func newItemsAddCmd(paths *agentPaths) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a backup item",
		Example: `  strongbox-agent items add Documents --path ~/Documents --interval daily --daily-time 02:30
  strongbox-agent items add Wiki --kind database --db-path /var/lib/wiki/wiki.db --interval hourly`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			item, err := f.item(args[0], now)
			if err != nil {
				return err
			}
			refreshNextRun(item, now)

			return withStore(paths, func(store *agentclient.SQLiteStore) error {
				if _, err := store.FindItemByName(cmd.Context(), item.Name); err == nil {
					return fmt.Errorf("a backup item named %q already exists", item.Name)
				} else if !errors.Is(err, agentclient.ErrNotFound) {
					return err
				}
				if err := store.SaveItem(cmd.Context(), item); err != nil {
					return err
				}
				fmt.Printf("Added %s (%s, next run %s)\n", okColor.Sprint(item.Name), describeSchedule(item.Schedule), formatTime(item.NextRun))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.kind, "kind", string(models.ItemKindFiles), "files or database")
	cmd.Flags().StringArrayVar(&f.paths, "path", nil, "file or directory to back up (repeatable)")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "glob of names to skip (repeatable)")
	cmd.Flags().StringVar(&f.interval, "interval", string(models.IntervalManual), "manual, hourly, daily, weekly, custom or cron")
	cmd.Flags().StringVar(&f.dailyTime, "daily-time", "", "HH:MM for daily items")
	cmd.Flags().StringVar(&f.weeklyDay, "weekly-day", "", "weekday for weekly items")
	cmd.Flags().StringVar(&f.weeklyTime, "weekly-time", "", "HH:MM for weekly items")
	cmd.Flags().StringVar(&f.customHours, "custom-hours", "", "hours between runs for custom items")
	cmd.Flags().StringVar(&f.cron, "cron", "", "five-field cron expression for cron items")
	cmd.Flags().StringVar(&f.dbEngine, "db-engine", "", "database engine label")
	cmd.Flags().StringVar(&f.dbPath, "db-path", "", "database file to back up")
	cmd.Flags().StringVar(&f.dbTool, "db-tool", "", "dump tool whose stdout is backed up")
	cmd.Flags().StringArrayVar(&f.dbArgs, "db-arg", nil, "argument passed to the dump tool (repeatable)")
	cmd.Flags().BoolVar(&f.disabled, "disabled", false, "add the item without scheduling it")

	return cmd
}

func newItemsRemoveCmd(paths *agentPaths) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a backup item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(paths, func(store *agentclient.SQLiteStore) error {
				item, err := lookupItem(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if err := store.DeleteItem(cmd.Context(), item.ID); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", item.Name)
				return nil
			})
		},
	}
}

func newItemsToggleCmd(paths *agentPaths, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " scheduling for a backup item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(paths, func(store *agentclient.SQLiteStore) error {
				item, err := lookupItem(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				now := time.Now()
				item.Enabled = enabled
				item.UpdatedAt = now
				refreshNextRun(item, now)
				if err := store.SaveItem(cmd.Context(), item); err != nil {
					return err
				}
				fmt.Printf("%s: enabled=%v next run %s\n", item.Name, item.Enabled, formatTime(item.NextRun))
				return nil
			})
		},
	}
}

func printItemStatus(ctx context.Context, paths *agentPaths) error {
	return withStore(paths, func(store *agentclient.SQLiteStore) error {
		items, err := store.ListItems(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No backup items configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BACKUP\tSTATE\tLAST BACKUP\tNEXT RUN")
		for _, item := range items {
			state := okColor.Sprint("scheduled")
			switch {
			case !item.Enabled:
				state = dimColor.Sprint("disabled")
			case item.Schedule.IsManual():
				state = warnColor.Sprint("manual")
			}

			last := "never"
			summary, err := store.GetSummary(ctx, item.ID)
			switch {
			case err == nil:
				last = fmt.Sprintf("v%d, %d files, %s", summary.Version, summary.FileCount, summary.CompletedAt.Local().Format("2006-01-02 15:04"))
			case !errors.Is(err, agentclient.ErrNotFound):
				last = failColor.Sprint("unknown")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Name, state, last, formatTime(item.NextRun))
		}
		return w.Flush()
	})
}
