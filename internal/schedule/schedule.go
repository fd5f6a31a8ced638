// Package schedule computes when a backup item is next due.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultCustomHours is used when a custom interval has no usable hour count.
const DefaultCustomHours = 1

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first time after ref at which spec is due.
// It reports false for manual items and for specs that can never fire.
// Calendar arithmetic happens in ref's location, so equal inputs always give equal outputs.
func NextRun(spec models.ScheduleSpec, ref time.Time) (time.Time, bool) {
	switch spec.Interval {
	case models.IntervalHourly:
		return ref.Add(time.Hour), true

	case models.IntervalDaily:
		hour, minute := clockOrMidnight(spec.DailyTime)
		next := at(ref, 0, hour, minute)
		if !next.After(ref) {
			next = at(ref, 1, hour, minute)
		}
		return next, true

	case models.IntervalWeekly:
		day, err := ParseWeekday(spec.WeeklyDay)
		if err != nil {
			day = time.Sunday
		}
		hour, minute := clockOrMidnight(spec.WeeklyTime)
		offset := (int(day) - int(ref.Weekday()) + 7) % 7
		next := at(ref, offset, hour, minute)
		if !next.After(ref) {
			next = at(ref, offset+7, hour, minute)
		}
		return next, true

	case models.IntervalCustom:
		return ref.Add(time.Duration(CustomHours(spec.CustomHours)) * time.Hour), true

	case models.IntervalCron:
		sched, err := cronParser.Parse(spec.CronExpression)
		if err != nil {
			return time.Time{}, false
		}
		next := sched.Next(ref)
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	}

	return time.Time{}, false
}

// CustomHours parses a custom interval hour count, falling back to DefaultCustomHours.
func CustomHours(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return DefaultCustomHours
	}
	return n
}

// ParseClock parses a 24-hour "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// ParseWeekday accepts an English day name, its three-letter prefix, or 0-6 with 0 as Sunday.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("invalid weekday %q", s)
		}
		return time.Weekday(n), nil
	}
	if len(v) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), v) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// Validate reports configuration errors that NextRun would otherwise paper over with defaults.
func Validate(spec models.ScheduleSpec) error {
	switch spec.Interval {
	case models.IntervalDaily:
		if _, _, err := ParseClock(spec.DailyTime); err != nil {
			return err
		}
	case models.IntervalWeekly:
		if _, err := ParseWeekday(spec.WeeklyDay); err != nil {
			return err
		}
		if _, _, err := ParseClock(spec.WeeklyTime); err != nil {
			return err
		}
	case models.IntervalCron:
		if _, err := cronParser.Parse(spec.CronExpression); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	}
	return nil
}

func clockOrMidnight(s string) (int, int) {
	hour, minute, err := ParseClock(s)
	if err != nil {
		return 0, 0
	}
	return hour, minute
}

// at returns the wall-clock time hour:minute, days after ref's calendar date.
func at(ref time.Time, days, hour, minute int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d+days, hour, minute, 0, 0, ref.Location())
}
