package pipeline

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var errNeverFires = errors.New("schedule never fires")

// parseSchedule parses a standard five-field cron expression or a
// descriptor such as "@daily". Expressions that match no real date, like
// "0 0 30 2 *", are rejected.
func parseSchedule(expr string, now time.Time) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	if sched.Next(now).IsZero() {
		return nil, errNeverFires
	}
	return sched, nil
}
