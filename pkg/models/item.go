package models

import (
	"errors"
	"strings"
	"time"
)

// IntervalKind selects how an item's next run is computed.
type IntervalKind string

const (
	// IntervalManual items are only run on demand.
	IntervalManual IntervalKind = "manual"
	// IntervalHourly runs one hour after the reference time.
	IntervalHourly IntervalKind = "hourly"
	// IntervalDaily runs once a day at DailyTime.
	IntervalDaily IntervalKind = "daily"
	// IntervalWeekly runs once a week on WeeklyDay at WeeklyTime.
	IntervalWeekly IntervalKind = "weekly"
	// IntervalCustom runs every CustomHours hours.
	IntervalCustom IntervalKind = "custom"
	// IntervalCron runs on a standard five-field cron expression.
	IntervalCron IntervalKind = "cron"
)

// ItemKind is what an item backs up.
type ItemKind string

const (
	// ItemKindFiles backs up a list of files and directories.
	ItemKindFiles ItemKind = "files"
	// ItemKindDatabase backs up a database file or a tool-produced dump.
	ItemKindDatabase ItemKind = "database"
)

// ScheduleSpec is the interval configuration of an item.
type ScheduleSpec struct {
	Interval       IntervalKind `json:"interval" yaml:"interval"`
	DailyTime      string       `json:"daily_time,omitempty" yaml:"daily_time,omitempty"`
	WeeklyDay      string       `json:"weekly_day,omitempty" yaml:"weekly_day,omitempty"`
	WeeklyTime     string       `json:"weekly_time,omitempty" yaml:"weekly_time,omitempty"`
	CustomHours    string       `json:"custom_hours,omitempty" yaml:"custom_hours,omitempty"`
	CronExpression string       `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
}

// IsManual reports whether the spec never schedules automatic runs.
func (s ScheduleSpec) IsManual() bool {
	return s.Interval == "" || s.Interval == IntervalManual
}

// DatabaseTarget describes a database item.
// Path is backed up directly unless ToolPath is set, in which case the tool's
// stdout (run with Args) is captured as the dump.
type DatabaseTarget struct {
	Engine   string   `json:"engine,omitempty"`
	Path     string   `json:"path,omitempty"`
	ToolPath string   `json:"tool_path,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// Item is a user-configured recurring backup definition.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      ItemKind        `json:"kind"`
	Paths     []string        `json:"paths,omitempty"`
	Excludes  []string        `json:"excludes,omitempty"`
	Database  *DatabaseTarget `json:"database,omitempty"`
	Schedule  ScheduleSpec    `json:"schedule"`
	Enabled   bool            `json:"enabled"`
	LastRun   *time.Time      `json:"last_run,omitempty"`
	NextRun   *time.Time      `json:"next_run,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks an item is runnable.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("name is required")
	}
	switch i.Kind {
	case ItemKindFiles:
		if len(i.Paths) == 0 {
			return errors.New("at least one path is required")
		}
	case ItemKindDatabase:
		if i.Database == nil || (i.Database.Path == "" && i.Database.ToolPath == "") {
			return errors.New("database path or tool path is required")
		}
	default:
		return errors.New("kind must be files or database")
	}
	switch i.Schedule.Interval {
	case "", IntervalManual, IntervalHourly, IntervalDaily, IntervalWeekly, IntervalCustom, IntervalCron:
	default:
		return errors.New("unknown interval " + string(i.Schedule.Interval))
	}
	return nil
}

// Scheduled reports whether the item should hold an armed timer.
func (i *Item) Scheduled() bool {
	return i.Enabled && !i.Schedule.IsManual()
}
