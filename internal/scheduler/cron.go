package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a standard 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// CronMatches reports whether the expression fires in the minute
// containing t, evaluated in loc.
func CronMatches(expr string, t time.Time, loc *time.Location) (bool, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	minute := t.In(loc).Truncate(time.Minute)
	next := sched.Next(minute.Add(-time.Second))
	return next.Equal(minute), nil
}
