package schedule

import (
	"testing"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
)

// 2026-03-02 is a Monday.
func ref(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name   string
		spec   models.ScheduleSpec
		ref    time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name: "manual never runs",
			spec: models.ScheduleSpec{Interval: models.IntervalManual},
			ref:  ref(2, 8, 0),
		},
		{
			name: "empty interval is manual",
			spec: models.ScheduleSpec{},
			ref:  ref(2, 8, 0),
		},
		{
			name:   "hourly",
			spec:   models.ScheduleSpec{Interval: models.IntervalHourly},
			ref:    ref(2, 8, 17),
			want:   ref(2, 9, 17),
			wantOK: true,
		},
		{
			name:   "daily later today",
			spec:   models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "09:00"},
			ref:    ref(2, 8, 0),
			want:   ref(2, 9, 0),
			wantOK: true,
		},
		{
			name:   "daily already passed rolls to tomorrow",
			spec:   models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "09:00"},
			ref:    ref(2, 10, 0),
			want:   ref(3, 9, 0),
			wantOK: true,
		},
		{
			name:   "daily exactly now rolls to tomorrow",
			spec:   models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "09:00"},
			ref:    ref(2, 9, 0),
			want:   ref(3, 9, 0),
			wantOK: true,
		},
		{
			name:   "daily invalid time falls back to midnight",
			spec:   models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "25:99"},
			ref:    ref(2, 10, 0),
			want:   ref(3, 0, 0),
			wantOK: true,
		},
		{
			name:   "weekly same day before time",
			spec:   models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "monday", WeeklyTime: "10:00"},
			ref:    ref(2, 9, 0),
			want:   ref(2, 10, 0),
			wantOK: true,
		},
		{
			name:   "weekly same day after time rolls a week",
			spec:   models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "monday", WeeklyTime: "10:00"},
			ref:    ref(2, 11, 0),
			want:   ref(9, 10, 0),
			wantOK: true,
		},
		{
			name:   "weekly later in week",
			spec:   models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "fri", WeeklyTime: "18:30"},
			ref:    ref(2, 11, 0),
			want:   ref(6, 18, 30),
			wantOK: true,
		},
		{
			name:   "weekly numeric day earlier in week",
			spec:   models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "0", WeeklyTime: "01:00"},
			ref:    ref(4, 11, 0),
			want:   ref(8, 1, 0),
			wantOK: true,
		},
		{
			name:   "custom hours",
			spec:   models.ScheduleSpec{Interval: models.IntervalCustom, CustomHours: "6"},
			ref:    ref(2, 8, 0),
			want:   ref(2, 14, 0),
			wantOK: true,
		},
		{
			name:   "custom unparseable defaults to one hour",
			spec:   models.ScheduleSpec{Interval: models.IntervalCustom, CustomHours: "often"},
			ref:    ref(2, 8, 0),
			want:   ref(2, 9, 0),
			wantOK: true,
		},
		{
			name:   "custom absent defaults to one hour",
			spec:   models.ScheduleSpec{Interval: models.IntervalCustom},
			ref:    ref(2, 8, 0),
			want:   ref(2, 9, 0),
			wantOK: true,
		},
		{
			name:   "custom zero defaults to one hour",
			spec:   models.ScheduleSpec{Interval: models.IntervalCustom, CustomHours: "0"},
			ref:    ref(2, 8, 0),
			want:   ref(2, 9, 0),
			wantOK: true,
		},
		{
			name:   "cron expression",
			spec:   models.ScheduleSpec{Interval: models.IntervalCron, CronExpression: "30 2 * * *"},
			ref:    ref(2, 8, 0),
			want:   ref(3, 2, 30),
			wantOK: true,
		},
		{
			name: "invalid cron expression",
			spec: models.ScheduleSpec{Interval: models.IntervalCron, CronExpression: "not cron"},
			ref:  ref(2, 8, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextRun(tt.spec, tt.ref)
			if ok != tt.wantOK {
				t.Fatalf("NextRun() ok = %v, want %v", ok, tt.wantOK)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRun_Deterministic(t *testing.T) {
	spec := models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "wednesday", WeeklyTime: "03:15"}
	r := ref(5, 12, 0)

	first, _ := NextRun(spec, r)
	for i := 0; i < 10; i++ {
		got, _ := NextRun(spec, r)
		if !got.Equal(first) {
			t.Fatalf("call %d returned %v, first call returned %v", i, got, first)
		}
	}
}

func TestNextRun_UsesReferenceLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	r := time.Date(2026, time.March, 2, 8, 0, 0, 0, loc)

	got, ok := NextRun(models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "09:00"}, r)
	if !ok {
		t.Fatal("expected a next run")
	}
	want := time.Date(2026, time.March, 2, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
	if got.Location() != loc {
		t.Errorf("location = %v, want %v", got.Location(), loc)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in        string
		hour, min int
		wantErr   bool
	}{
		{"09:00", 9, 0, false},
		{"23:59", 23, 59, false},
		{" 7:05 ", 7, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if h != tt.hour || m != tt.min {
				t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.min)
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{"Monday", time.Monday, false},
		{"tue", time.Tuesday, false},
		{"SATURDAY", time.Saturday, false},
		{"0", time.Sunday, false},
		{"6", time.Saturday, false},
		{"7", 0, true},
		{"mo", 0, true},
		{"someday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeekday(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeekday(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseWeekday(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    models.ScheduleSpec
		wantErr bool
	}{
		{"manual", models.ScheduleSpec{Interval: models.IntervalManual}, false},
		{"daily ok", models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "02:00"}, false},
		{"daily bad time", models.ScheduleSpec{Interval: models.IntervalDaily, DailyTime: "2am"}, true},
		{"weekly bad day", models.ScheduleSpec{Interval: models.IntervalWeekly, WeeklyDay: "x", WeeklyTime: "02:00"}, true},
		{"cron ok", models.ScheduleSpec{Interval: models.IntervalCron, CronExpression: "@daily"}, false},
		{"cron bad", models.ScheduleSpec{Interval: models.IntervalCron, CronExpression: "* *"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.spec); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
