package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly", or a Go duration for a fixed interval.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be positive: %q", schedule)
	}
	return interval(d), nil
}

// interval fires every d. Unlike cron.Every it keeps sub-second precision.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}
